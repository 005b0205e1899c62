package types

// ListResponse wraps list endpoints.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}
