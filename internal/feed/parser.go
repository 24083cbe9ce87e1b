package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrMalformedFeed is returned when a document is empty, not well-formed XML,
// or not an NDFD time-series document. The provider returns an empty body for
// out-of-coverage coordinates, so this is distinct from a transport failure.
var ErrMalformedFeed = errors.New("malformed feed")

// Temperature series types as they appear in the temperature type attribute.
const (
	TempHourly  = "hourly"
	TempMaximum = "maximum"
	TempMinimum = "minimum"
)

// Series is one parameter's values, positionally aligned to the timestamps of
// its time layout.
type Series struct {
	Type   string
	Units  string
	Layout string
	Values []string
}

// Document is the typed form of a time-series response.
type Document struct {
	// Layouts maps a layout key to its ordered start-valid-times.
	Layouts      map[string][]time.Time
	Temperatures map[string]Series
	// TempTypes lists temperature series types in document order.
	TempTypes []string
	Icons     Series
}

// CurrentTemperature returns the first hourly temperature value. Without an
// hourly series it falls back to the first temperature series in the document.
func (d Document) CurrentTemperature() string {
	if s, ok := d.Temperatures[TempHourly]; ok {
		return first(s.Values)
	}
	if len(d.TempTypes) == 0 {
		return ""
	}
	return first(d.Temperatures[d.TempTypes[0]].Values)
}

// CurrentIcon returns the first conditions icon link, or "".
func (d Document) CurrentIcon() string {
	return first(d.Icons.Values)
}

func (d Document) Highs() []string {
	return d.Temperatures[TempMaximum].Values
}

func (d Document) Lows() []string {
	return d.Temperatures[TempMinimum].Values
}

// IconTimes returns the start-valid-times of the layout referenced by the icon series.
func (d Document) IconTimes() []time.Time {
	return d.Layouts[d.Icons.Layout]
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

type dwml struct {
	XMLName xml.Name
	Problem string `xml:"pre>problem"`
	Data    struct {
		TimeLayouts []timeLayout `xml:"time-layout"`
		Parameters  struct {
			Temperatures []temperature    `xml:"temperature"`
			Icons        []conditionsIcon `xml:"conditions-icon"`
		} `xml:"parameters"`
	} `xml:"data"`
}

type timeLayout struct {
	Key        string   `xml:"layout-key"`
	StartTimes []string `xml:"start-valid-time"`
}

type temperature struct {
	Type   string   `xml:"type,attr"`
	Units  string   `xml:"units,attr"`
	Layout string   `xml:"time-layout,attr"`
	Values []string `xml:"value"`
}

type conditionsIcon struct {
	Layout string   `xml:"time-layout,attr"`
	Links  []string `xml:"icon-link"`
}

// Parse decodes an NDFD time-series document. All failures wrap ErrMalformedFeed.
func Parse(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, fmt.Errorf("%w: empty document", ErrMalformedFeed)
	}

	var raw dwml
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return Document{}, fmt.Errorf("%w: parse xml: %v", ErrMalformedFeed, err)
	}
	if err := checkTrailing(dec); err != nil {
		return Document{}, err
	}
	switch raw.XMLName.Local {
	case "dwml":
	case "error":
		return Document{}, fmt.Errorf("%w: provider error: %s", ErrMalformedFeed, collapse(raw.Problem))
	default:
		return Document{}, fmt.Errorf("%w: unexpected root element <%s>", ErrMalformedFeed, raw.XMLName.Local)
	}

	doc := Document{
		Layouts:      make(map[string][]time.Time, len(raw.Data.TimeLayouts)),
		Temperatures: make(map[string]Series, len(raw.Data.Parameters.Temperatures)),
	}

	for _, tl := range raw.Data.TimeLayouts {
		key := strings.TrimSpace(tl.Key)
		if _, dup := doc.Layouts[key]; dup {
			continue
		}
		times := make([]time.Time, 0, len(tl.StartTimes))
		for _, s := range tl.StartTimes {
			ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
			if err != nil {
				return Document{}, fmt.Errorf("%w: layout %s: start-valid-time %q: %v", ErrMalformedFeed, key, s, err)
			}
			times = append(times, ts)
		}
		doc.Layouts[key] = times
	}

	for _, t := range raw.Data.Parameters.Temperatures {
		typ := strings.TrimSpace(t.Type)
		if _, dup := doc.Temperatures[typ]; dup {
			continue
		}
		doc.TempTypes = append(doc.TempTypes, typ)
		doc.Temperatures[typ] = Series{
			Type:   typ,
			Units:  t.Units,
			Layout: strings.TrimSpace(t.Layout),
			Values: trimAll(t.Values),
		}
	}

	if len(raw.Data.Parameters.Icons) > 0 {
		ic := raw.Data.Parameters.Icons[0]
		doc.Icons = Series{
			Type:   "conditions-icon",
			Layout: strings.TrimSpace(ic.Layout),
			Values: trimAll(ic.Links),
		}
	}

	return doc, nil
}

// checkTrailing consumes the rest of the input after the root element. Only
// whitespace, comments and processing instructions may follow it.
func checkTrailing(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: parse xml: %v", ErrMalformedFeed, err)
		}
		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst:
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return fmt.Errorf("%w: text after root element", ErrMalformedFeed)
			}
		default:
			return fmt.Errorf("%w: content after root element", ErrMalformedFeed)
		}
	}
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func collapse(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "no detail"
	}
	return s
}
