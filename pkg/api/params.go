package api

import (
	"fmt"
	"time"

	"github.com/trussbench/trussbench/pkg/config"
)

// applyParameters validates and applies a client-supplied parameter update.
// The whole update is rejected on the first invalid key or value; partial
// application never happens.
func (s *Server) applyParameters(update map[string]any) (config.RunConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.params
	for key, value := range update {
		switch key {
		case "max_requests_per_run":
			n, err := asInt(value)
			if err != nil || n < 0 {
				return config.RunConfig{}, fmt.Errorf("max_requests_per_run: invalid value %v", value)
			}
			next.MaxRequestsPerRun = n

		case "max_time_per_run":
			d, err := asDuration(value)
			if err != nil {
				return config.RunConfig{}, fmt.Errorf("max_time_per_run: %v", err)
			}
			next.MaxTimePerRun = config.Duration(d)

		case "num_concurrency":
			list, err := asIntList(value)
			if err != nil || len(list) == 0 {
				return config.RunConfig{}, fmt.Errorf("num_concurrency: invalid value %v", value)
			}
			for _, n := range list {
				if n <= 0 {
					return config.RunConfig{}, fmt.Errorf("num_concurrency: must be positive, got %d", n)
				}
			}
			next.NumConcurrency = list

		case "traffic_scenario":
			list, err := asStringList(value)
			if err != nil || len(list) == 0 {
				return config.RunConfig{}, fmt.Errorf("traffic_scenario: invalid value %v", value)
			}
			next.TrafficScenario = list

		default:
			return config.RunConfig{}, fmt.Errorf("unknown parameter %q", key)
		}
	}

	s.params = next
	return next, nil
}

// asInt accepts JSON numbers (float64 after unmarshal) and ints.
func asInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// asDuration accepts duration strings ("2m") or plain seconds.
func asDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		return time.ParseDuration(d)
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("not a duration: %v", v)
	}
}

func asIntList(v any) ([]int, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("not a list: %v", v)
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		n, err := asInt(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func asStringList(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("not a list: %v", v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("not a string: %v", item)
		}
		out = append(out, str)
	}
	return out, nil
}
