package session

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/record/errors"
)

var (
	// e.g. "Shot:1234", "Task_56", "Asset 7?code=tree"
	directSpecPattern = regexp.MustCompile(`^([A-Za-z]{3,}\w*?)[:_ -](\d+)(?:\?(\S*))?$`)

	// detail page urls, e.g. "https://records.example.com/detail/Shot/1234"
	detailURLPattern = regexp.MustCompile(`^https?://[\w.-]+(?::\d+)?/detail/([A-Za-z]\w*)/(\d+)`)
)

// ParseSpec resolves free form user input such as "Shot:1234", "Task_56",
// a detail page URL, a JSON object, or a bare numeric id, into an entity of
// this session. Bare ids are only accepted when exactly one candidate type
// is supplied. The parsed entity is merged, not fetched; its fields are
// whatever the spec itself carried.
func (s *Session) ParseSpec(spec string, candidateTypes ...string) (*Entity, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.NewBadRequestError("empty entity spec")
	}

	if strings.HasPrefix(spec, "{") {
		raw := record.RawRecord{}

		err := json.Unmarshal([]byte(spec), &raw)
		if err != nil {
			return nil, errors.NewBadRequestError(
				fmt.Sprintf("malformed json entity spec: %s", err.Error()),
			)
		}

		return s.MergeOne(raw)
	}

	if m := detailURLPattern.FindStringSubmatch(spec); m != nil {
		id, _ := strconv.ParseInt(m[2], 10, 64)
		return s.MergeOne(record.NewRef(m[1], id))
	}

	if m := directSpecPattern.FindStringSubmatch(spec); m != nil {
		id, _ := strconv.ParseInt(m[2], 10, 64)
		raw := record.NewRef(m[1], id)

		if m[3] != "" {
			values, err := url.ParseQuery(m[3])
			if err != nil {
				return nil, errors.NewBadRequestError(
					fmt.Sprintf("malformed entity spec query: %s", err.Error()),
				)
			}
			for key := range values {
				raw[key] = values.Get(key)
			}
		}

		return s.MergeOne(raw)
	}

	if id, err := strconv.ParseInt(spec, 10, 64); err == nil {
		if len(candidateTypes) != 1 {
			return nil, errors.NewBadRequestError(
				fmt.Sprintf("bare id %d is ambiguous without exactly one candidate type", id),
			)
		}
		return s.MergeOne(record.NewRef(candidateTypes[0], id))
	}

	return nil, errors.NewBadRequestError(
		fmt.Sprintf("unable to parse entity spec %q", spec),
	)
}
