package cowin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"slotwatch/internal/slots"
)

// Wire shapes. Pointers distinguish a missing field from its zero value;
// unknown fields (center_id, fee_type, slots, ...) are ignored.
type calendarJSON struct {
	Centers *[]centerJSON `json:"centers"`
}

type centerJSON struct {
	Name     *string        `json:"name"`
	Address  *string        `json:"address"`
	Sessions *[]sessionJSON `json:"sessions"`
}

type sessionJSON struct {
	Date                   *string `json:"date"`
	AvailableCapacityDose1 *int    `json:"available_capacity_dose1"`
	MinAgeLimit            *int    `json:"min_age_limit"`
}

// decodeCalendar decodes a calendarByPin/calendarByDistrict body.
func decodeCalendar(r io.Reader) ([]slots.Center, error) {
	var body calendarJSON
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return nil, &ParseError{Field: te.Field, Err: err}
		}
		return nil, &ParseError{Err: err}
	}
	if body.Centers == nil {
		return nil, &ParseError{Field: "centers", Err: errMissing}
	}

	out := make([]slots.Center, 0, len(*body.Centers))
	for i, c := range *body.Centers {
		path := fmt.Sprintf("centers[%d]", i)
		switch {
		case c.Name == nil:
			return nil, &ParseError{Field: path + ".name", Err: errMissing}
		case c.Address == nil:
			return nil, &ParseError{Field: path + ".address", Err: errMissing}
		case c.Sessions == nil:
			return nil, &ParseError{Field: path + ".sessions", Err: errMissing}
		}

		center := slots.Center{
			Name:     *c.Name,
			Address:  *c.Address,
			Sessions: make([]slots.Session, 0, len(*c.Sessions)),
		}
		for j, s := range *c.Sessions {
			spath := fmt.Sprintf("%s.sessions[%d]", path, j)
			switch {
			case s.Date == nil:
				return nil, &ParseError{Field: spath + ".date", Err: errMissing}
			case s.AvailableCapacityDose1 == nil:
				return nil, &ParseError{Field: spath + ".available_capacity_dose1", Err: errMissing}
			case s.MinAgeLimit == nil:
				return nil, &ParseError{Field: spath + ".min_age_limit", Err: errMissing}
			}
			center.Sessions = append(center.Sessions, slots.Session{
				Date:              *s.Date,
				AvailableCapacity: *s.AvailableCapacityDose1,
				MinAgeLimit:       *s.MinAgeLimit,
			})
		}
		out = append(out, center)
	}
	return out, nil
}
