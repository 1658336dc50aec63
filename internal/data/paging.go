package data

// Page returns the items following the cursor in params.NextToken. The cursor
// is the key of the last item of the previous page; an unknown cursor starts
// from the beginning.
func Page[T interface{}](items []T, params QueryParams, key func(T) string) QueryResults[T] {
	start := 0
	if len(params.NextToken) > 0 {
		cursor := string(params.NextToken)
		for i, item := range items {
			if key(item) == cursor {
				start = i + 1
				break
			}
		}
	}
	end := min(start+int(*params.GetLimit()), len(items))
	results := QueryResults[T]{Items: items[start:end]}
	if end < len(items) {
		results.NextToken = []byte(key(items[end-1]))
	}
	return results
}
