package utils

import (
	"errors"
	"strconv"
)

const pageSizeDefault = 20
const pageSizeMax = 100

// GetPaginationParams calculates the offset and limit for pagination based on the provided values.
// If offset or limit are nil, default values are used. The limit is capped at a maximum value.
func GetPaginationParams(offset *int, limit *int) (int, int) {
	finalOffset := 0
	finalLimit := pageSizeDefault

	if offset != nil && *offset >= 0 {
		finalOffset = *offset
	}

	if limit != nil && *limit > 0 {
		finalLimit = min(*limit, pageSizeMax)
	}

	return finalOffset, finalLimit
}

// ParsePaginationQuery parses optional offset and limit query values. Empty values yield nil so
// that GetPaginationParams applies its defaults.
func ParsePaginationQuery(offsetStr, limitStr string) (*int, *int, error) {
	var offset, limit *int

	if offsetStr != "" {
		v, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, nil, errors.New("invalid 'offset' query parameter, must be an integer")
		}
		offset = &v
	}

	if limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, nil, errors.New("invalid 'limit' query parameter, must be an integer")
		}
		limit = &v
	}

	return offset, limit, nil
}
