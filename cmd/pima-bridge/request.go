package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	pima "github.com/caarlos0/pima-bridge"
)

var errDisarmDisabled = fmt.Errorf("%w: disarm is disabled", pima.ErrInvalidArgument)

var defaultPartitions = []int{1}

// armRequest is the body accepted by the HTTP API and the MQTT arm topic.
type armRequest struct {
	Mode       string        `json:"mode"`
	Partitions partitionList `json:"partitions"`
}

func (r armRequest) parse(disableDisarm bool) (pima.Mode, []int, error) {
	if strings.TrimSpace(r.Mode) == "" {
		return pima.ModeUnknown, nil, fmt.Errorf("%w: missing mode", pima.ErrInvalidArgument)
	}
	mode, err := pima.ParseMode(r.Mode)
	if err != nil {
		return pima.ModeUnknown, nil, err
	}
	if mode == pima.ModeDisarm && disableDisarm {
		return pima.ModeUnknown, nil, errDisarmDisabled
	}
	partitions := []int(r.Partitions)
	if partitions == nil {
		partitions = defaultPartitions
	}
	return mode, partitions, nil
}

// partitionList accepts both numbers and numeric strings.
type partitionList []int

func (p *partitionList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: partitions must be a list", pima.ErrInvalidArgument)
	}
	list := make(partitionList, 0, len(raw))
	for _, v := range raw {
		n, err := partitionNumber(v)
		if err != nil {
			return err
		}
		list = append(list, n)
	}
	*p = list
	return nil
}

func partitionNumber(v interface{}) (int, error) {
	switch v := v.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: invalid partition %v", pima.ErrInvalidArgument, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: invalid partition %q", pima.ErrInvalidArgument, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: invalid partition %v", pima.ErrInvalidArgument, v)
	}
}

func parsePartitions(args []string) ([]int, error) {
	var result []int
	for _, arg := range args {
		for _, s := range strings.Split(arg, ",") {
			if s == "" {
				continue
			}
			n, err := partitionNumber(s)
			if err != nil {
				return nil, err
			}
			result = append(result, n)
		}
	}
	return result, nil
}

func decodeArmRequest(payload []byte) (armRequest, error) {
	var req armRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		if errors.Is(err, pima.ErrInvalidArgument) {
			return req, err
		}
		return req, fmt.Errorf("%w: invalid json: %w", pima.ErrInvalidArgument, err)
	}
	return req, nil
}
