package courts

// ProcessResponse runs a raw upstream payload through normalization and park
// aggregation.
func ProcessResponse(payload []byte) (map[string]*Park, error) {
	normalized, err := NormalizeResponse(payload)
	if err != nil {
		return nil, err
	}
	return AggregateByPark(normalized), nil
}
