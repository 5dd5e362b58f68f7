package model

import "fmt"

type Side uint8

const (
	BID Side = iota // resting buy orders
	ASK             // resting sell orders
)

// ParseSide maps the feed's wire representation ("buy"/"sell") to a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return BID, nil
	case "sell":
		return ASK, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

func (s Side) String() string {
	if s == BID {
		return "buy"
	}
	return "sell"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	side, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}
