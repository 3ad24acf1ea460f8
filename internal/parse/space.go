package parse

import (
	"regexp"
	"strconv"
	"strings"

	"aeropark-backend/internal/errs"
)

var (
	spaceRe = regexp.MustCompile(`^([A-Za-z])\s*(\d+)$`)
	spaceWS = regexp.MustCompile(`\s+`)
)

// ErrInvalidSpaceNumber is returned when a space number is not a zone letter
// followed by digits.
var ErrInvalidSpaceNumber = errs.Sentinel("invalid space number", errs.ErrInvalidInput)

// ParsedSpace holds the structured data parsed from a space number.
type ParsedSpace struct {
	Number string // canonical display form, e.g. "A12"
	ID     string // stable identifier, e.g. "a12"
	Zone   string
	Index  int
}

// ParseSpaceNumber validates a raw space number such as "a12" or " B 3 ".
func ParseSpaceNumber(raw string) (ParsedSpace, error) {
	s := strings.TrimSpace(spaceWS.ReplaceAllString(raw, " "))
	m := spaceRe.FindStringSubmatch(s)
	if m == nil {
		return ParsedSpace{}, errs.Wrapf(ErrInvalidSpaceNumber, "%q", raw)
	}
	idx, err := strconv.Atoi(m[2])
	if err != nil || idx <= 0 {
		return ParsedSpace{}, errs.Wrapf(ErrInvalidSpaceNumber, "%q", raw)
	}

	zone := strings.ToUpper(m[1])
	number := zone + m[2]
	return ParsedSpace{
		Number: number,
		ID:     SpaceID(number),
		Zone:   zone,
		Index:  idx,
	}, nil
}

// SpaceID derives the stable identifier of a space from its number.
func SpaceID(number string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(number)), " ", "_")
}
