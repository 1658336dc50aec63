package data

type QueryParams struct {
	Limit     int    `json:"limit"`
	NextToken []byte `json:"nextToken"`
}

func (q *QueryParams) GetLimit() *int32 {
	limit := int32(100)
	if q.Limit > 0 && q.Limit <= 100 {
		limit = int32(q.Limit)
	}
	return &limit
}

type QueryResults[T interface{}] struct {
	Items     []T    `json:"items"`
	NextToken []byte `json:"nextToken"`
}

type NextToken map[string]map[string]string

type Repository[T interface{}, I interface{}] interface {
	List(accountId string, params QueryParams) (QueryResults[T], error)
	Get(accountId string, itemId string) (T, error)
	Create(accountId string, input I) (T, error)
	Put(accountId string, itemId string, input I) (T, error)
	Delete(accountId string, itemId string) error
}
