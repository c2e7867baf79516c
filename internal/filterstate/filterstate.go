// Package filterstate owns the active filter predicate: what the user
// has narrowed the map to, how that survives across sessions in a
// cookie, and how it folds into upstream query parameters.
package filterstate

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrDateRangeInvalid marks a since year later than the until year. The
// caller treats it as a transient user-input state and silently skips
// the fetch; it is never surfaced as a failure.
var ErrDateRangeInvalid = errors.New("since year is after until year")

const (
	// CookieName holds the persisted filter state.
	CookieName = "civicmap_filters"

	// CookieMaxAge is the multi-day expiry on the filter cookie.
	CookieMaxAge = 14 * 24 * time.Hour
)

// scalarFields are the form fields carrying a single value; everything
// else is treated as a multi-valued category set.
var scalarFields = map[string]struct{}{
	"since": {},
	"until": {},
}

// State maps scalar year bounds plus per-field enabled category sets.
// A field absent from Categories, or present with an empty set, means
// "no constraint"; those two are distinct from an explicitly narrowed
// singleton set and the distinction survives persistence.
type State struct {
	Since      int                 `json:"since,omitempty"`
	Until      int                 `json:"until,omitempty"`
	Categories map[string][]string `json:"categories,omitempty"`
}

// Apply builds a State from submitted form values. Scalar fields map
// 1:1; repeated (checkbox-style) fields collapse into a sorted set.
func Apply(values url.Values) State {
	s := State{}
	for field, vs := range values {
		if _, scalar := scalarFields[field]; scalar {
			if len(vs) > 0 {
				if year, err := strconv.Atoi(strings.TrimSpace(vs[0])); err == nil {
					if field == "since" {
						s.Since = year
					} else {
						s.Until = year
					}
				}
			}
			continue
		}

		set := make([]string, 0, len(vs))
		seen := make(map[string]struct{}, len(vs))
		for _, v := range vs {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			set = append(set, v)
		}
		sort.Strings(set)
		if s.Categories == nil {
			s.Categories = map[string][]string{}
		}
		s.Categories[field] = set
	}
	return s
}

// Validate reports ErrDateRangeInvalid when both year bounds are set
// and inverted.
func (s State) Validate() error {
	if s.Since != 0 && s.Until != 0 && s.Since > s.Until {
		return fmt.Errorf("%w: %d > %d", ErrDateRangeInvalid, s.Since, s.Until)
	}
	return nil
}

// QueryParameters flattens the state for upstream compatibility: sets
// join comma-separated, a selected year expands into a full date (since
// becomes Jan 1, until becomes Dec 31).
func (s State) QueryParameters() (url.Values, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	if s.Since != 0 {
		q.Set("since", fmt.Sprintf("%04d-01-01", s.Since))
	}
	if s.Until != 0 {
		q.Set("until", fmt.Sprintf("%04d-12-31", s.Until))
	}
	for field, set := range s.Categories {
		if len(set) == 0 {
			// Empty set means "all values": no constraint sent.
			continue
		}
		q.Set(field, strings.Join(set, ","))
	}
	return q, nil
}

// Persist serializes the state into the filter cookie with a multi-day
// expiry. The JSON payload is base64-wrapped so the cookie value stays
// within the allowed character set.
func Persist(w http.ResponseWriter, s State) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    base64.URLEncoding.EncodeToString(b),
		Path:     "/",
		MaxAge:   int(CookieMaxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Restore deserializes the filter cookie. It is applied once at initial
// load only; in-session changes always win over the persisted copy.
func Restore(r *http.Request) (State, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return State{}, false
	}
	b, err := base64.URLEncoding.DecodeString(c.Value)
	if err != nil {
		return State{}, false
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, false
	}
	return s, true
}

// Equal compares two states including the all-values vs explicit-set
// distinction.
func (s State) Equal(o State) bool {
	if s.Since != o.Since || s.Until != o.Until {
		return false
	}
	if len(s.Categories) != len(o.Categories) {
		return false
	}
	for field, set := range s.Categories {
		oset, ok := o.Categories[field]
		if !ok || len(set) != len(oset) {
			return false
		}
		for i := range set {
			if set[i] != oset[i] {
				return false
			}
		}
	}
	return true
}
