package config

import (
	"context"
	"testing"
)

func TestEnvVarProviderSatisfiesSecretProvider(t *testing.T) {
	var _ SecretProvider = NewEnvVarProvider()
}

func TestEnvVarProviderReturnsSetVariables(t *testing.T) {
	t.Setenv("DINERBELL_TEST_SECRET_A", "alpha")
	t.Setenv("DINERBELL_TEST_SECRET_B", "")

	result, err := NewEnvVarProvider().GetParametersBatch(context.Background(),
		[]string{"DINERBELL_TEST_SECRET_A", "DINERBELL_TEST_SECRET_B", "DINERBELL_TEST_UNSET"})
	if err != nil {
		t.Fatalf("GetParametersBatch: %v", err)
	}
	if result["DINERBELL_TEST_SECRET_A"] != "alpha" {
		t.Errorf("A = %q", result["DINERBELL_TEST_SECRET_A"])
	}
	if v, ok := result["DINERBELL_TEST_SECRET_B"]; !ok || v != "" {
		t.Error("set-but-empty variable should be returned")
	}
	if _, ok := result["DINERBELL_TEST_UNSET"]; ok {
		t.Error("unset variable should be omitted")
	}
}
