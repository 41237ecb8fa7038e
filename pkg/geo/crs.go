package geo

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/umputun/tablecrow/pkg/schema"
)

// CRS is a coordinate reference system. It is identified by EPSG code when known,
// and may carry the WKT definition it was parsed from. Compound systems keep their components in Parts.
type CRS struct {
	EPSG  int
	Name  string
	WKT   string
	Parts []CRS
}

// DefaultCRS is used for geometry fields when no CRS is given
var DefaultCRS = CRS{EPSG: 4326, Name: "WGS 84"}

// definitions for codes we can describe without a projection database
var knownCRS = map[int]CRS{
	4326: {EPSG: 4326, Name: "WGS 84", WKT: `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,` +
		`AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],` +
		`UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`},
	4269: {EPSG: 4269, Name: "NAD83", WKT: `GEOGCS["NAD83",DATUM["North_American_Datum_1983",SPHEROID["GRS 1980",6378137,298.257222101,` +
		`AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","6269"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],` +
		`UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4269"]]`},
	3857: {EPSG: 3857, Name: "WGS 84 / Pseudo-Mercator", WKT: `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",` +
		`DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],` +
		`PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],` +
		`AUTHORITY["EPSG","4326"]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],` +
		`PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],` +
		`AXIS["Easting",EAST],AXIS["Northing",NORTH],AUTHORITY["EPSG","3857"]]`},
	5703: {EPSG: 5703, Name: "NAVD88 height", WKT: `VERT_CS["NAVD88 height",VERT_DATUM["North American Vertical Datum 1988",2005,` +
		`AUTHORITY["EPSG","5103"]],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Gravity-related height",UP],AUTHORITY["EPSG","5703"]]`},
}

var (
	reEPSG      = regexp.MustCompile(`(?i)^\s*epsg\s*:\s*(\d+)\s*$`)
	reAuthority = regexp.MustCompile(`^(?i:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?`)
	reKeyword   = regexp.MustCompile(`^\s*([A-Z_0-9]+)\s*\[`)
)

// ParseCRS makes CRS from EPSG code (int or "EPSG:n" or "n"), WKT string, compound "a + b" string,
// PROJJSON-like map or another CRS
func ParseCRS(v any) (CRS, error) {
	switch val := v.(type) {
	case CRS:
		return val, nil
	case *CRS:
		if val == nil {
			return CRS{}, errors.New("nil crs")
		}
		return *val, nil
	case int:
		return FromEPSG(val), nil
	case int32:
		return FromEPSG(int(val)), nil
	case int64:
		return FromEPSG(int(val)), nil
	case map[string]any:
		return crsFromJSON(val)
	case string:
		return parseCRSString(val)
	}
	return CRS{}, fmt.Errorf("can't make crs from %T", v)
}

// FromEPSG makes CRS for EPSG code
func FromEPSG(code int) CRS {
	if c, ok := knownCRS[code]; ok {
		return c
	}
	return CRS{EPSG: code, Name: "EPSG:" + strconv.Itoa(code)}
}

// Compound makes a compound CRS from its components, typically horizontal + vertical
func Compound(parts ...CRS) CRS {
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.Name
	}
	return CRS{Name: strings.Join(names, " + "), Parts: parts}
}

func parseCRSString(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, errors.New("empty crs")
	}
	if m := reEPSG.FindStringSubmatch(s); m != nil {
		code, _ := strconv.Atoi(m[1])
		return FromEPSG(code), nil
	}
	if code, err := strconv.Atoi(s); err == nil {
		return FromEPSG(code), nil
	}
	if reKeyword.MatchString(s) {
		return parseWKT(s)
	}
	if strings.Contains(s, "+") {
		var parts []CRS
		for _, p := range strings.Split(s, "+") {
			c, err := parseCRSString(p)
			if err != nil {
				return CRS{}, fmt.Errorf("can't parse compound crs part %q: %w", p, err)
			}
			parts = append(parts, c)
		}
		return Compound(parts...), nil
	}
	return CRS{}, fmt.Errorf("can't parse crs %q", s)
}

// parseWKT takes name and top-level authority code from WKT, components of compound systems become parts
func parseWKT(s string) (CRS, error) {
	m := reKeyword.FindStringSubmatch(s)
	if m == nil || !strings.HasSuffix(strings.TrimSpace(s), "]") {
		return CRS{}, fmt.Errorf("invalid wkt crs %q", s)
	}
	keyword := strings.ToUpper(m[1])
	body := strings.TrimSpace(s)
	body = body[strings.Index(body, "[")+1 : len(body)-1]

	args, err := splitWKTArgs(body)
	if err != nil {
		return CRS{}, fmt.Errorf("invalid wkt crs: %w", err)
	}

	res := CRS{WKT: strings.TrimSpace(s)}
	if len(args) > 0 {
		res.Name = strings.Trim(args[0], `"`)
	}
	for _, a := range args[1:] {
		if am := reAuthority.FindStringSubmatch(a); am != nil {
			res.EPSG, _ = strconv.Atoi(am[1])
			continue
		}
		if keyword == "COMPD_CS" || keyword == "COMPOUNDCRS" {
			if reKeyword.MatchString(a) {
				part, err := parseWKT(a)
				if err != nil {
					return CRS{}, err
				}
				res.Parts = append(res.Parts, part)
			}
		}
	}
	return res, nil
}

// splitWKTArgs splits by commas outside of brackets and quotes
func splitWKTArgs(s string) ([]string, error) {
	var res []string
	depth, start, quoted := 0, 0, false
	for i, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '[':
			depth++
		case r == ']':
			depth--
			if depth < 0 {
				return nil, errors.New("unbalanced brackets")
			}
		case r == ',' && depth == 0:
			res = append(res, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if depth != 0 || quoted {
		return nil, errors.New("unbalanced brackets or quotes")
	}
	return append(res, strings.TrimSpace(s[start:])), nil
}

func crsFromJSON(m map[string]any) (CRS, error) {
	res := CRS{}
	if name, ok := m["name"].(string); ok {
		res.Name = name
	}
	if id, ok := m["id"].(map[string]any); ok && strings.EqualFold(fmt.Sprint(id["authority"]), "EPSG") {
		code, err := strconv.Atoi(fmt.Sprint(id["code"]))
		if err != nil {
			return CRS{}, fmt.Errorf("invalid epsg code %v", id["code"])
		}
		known := FromEPSG(code)
		if res.Name == "" {
			res.Name = known.Name
		}
		res.EPSG, res.WKT = code, known.WKT
	}
	if comps, ok := m["components"].([]any); ok {
		for _, c := range comps {
			cm, ok := c.(map[string]any)
			if !ok {
				return CRS{}, errors.New("invalid compound crs component")
			}
			part, err := crsFromJSON(cm)
			if err != nil {
				return CRS{}, err
			}
			res.Parts = append(res.Parts, part)
		}
	}
	if res.EPSG == 0 && len(res.Parts) == 0 {
		return CRS{}, errors.New("crs json has neither epsg id nor components")
	}
	return res, nil
}

// IsZero reports whether the CRS is not set
func (c CRS) IsZero() bool { return c.EPSG == 0 && c.WKT == "" && len(c.Parts) == 0 && c.Name == "" }

// IsCompound reports whether the CRS is made of several components
func (c CRS) IsCompound() bool { return len(c.Parts) > 0 }

// SRID returns EPSG code usable as spatial reference id. Compound systems use their horizontal (first) component.
func (c CRS) SRID() (int, error) {
	if c.EPSG != 0 {
		return c.EPSG, nil
	}
	if len(c.Parts) > 0 {
		return c.Parts[0].SRID()
	}
	return 0, fmt.Errorf("crs %q has no epsg code: %w", c.Name, schema.ErrUnsupported)
}

// Equal compares by EPSG code when both have it, otherwise by components or WKT
func (c CRS) Equal(o CRS) bool {
	if c.EPSG != 0 || o.EPSG != 0 {
		return c.EPSG == o.EPSG
	}
	if len(c.Parts) != len(o.Parts) {
		return false
	}
	for i := range c.Parts {
		if !c.Parts[i].Equal(o.Parts[i]) {
			return false
		}
	}
	return len(c.Parts) > 0 || c.WKT == o.WKT
}

// String returns "EPSG:n", compound "EPSG:a + EPSG:b", or the name
func (c CRS) String() string {
	if c.EPSG != 0 {
		return "EPSG:" + strconv.Itoa(c.EPSG)
	}
	if len(c.Parts) > 0 {
		parts := make([]string, len(c.Parts))
		for i, p := range c.Parts {
			parts[i] = p.String()
		}
		return strings.Join(parts, " + ")
	}
	return c.Name
}

// ToWKT returns WKT definition, built from known definitions or components when not parsed from WKT
func (c CRS) ToWKT() string {
	if c.WKT != "" {
		return c.WKT
	}
	if k, ok := knownCRS[c.EPSG]; ok {
		return k.WKT
	}
	if len(c.Parts) > 0 {
		parts := make([]string, len(c.Parts))
		for i, p := range c.Parts {
			parts[i] = p.ToWKT()
		}
		return fmt.Sprintf(`COMPD_CS[%q,%s]`, c.Name, strings.Join(parts, ","))
	}
	if c.EPSG != 0 {
		return fmt.Sprintf(`CRS[%q,AUTHORITY["EPSG","%d"]]`, c.Name, c.EPSG)
	}
	return ""
}

// ToJSON returns PROJJSON-like description with name, id and components
func (c CRS) ToJSON() map[string]any {
	res := map[string]any{"name": c.Name}
	switch {
	case len(c.Parts) > 0:
		res["type"] = "CompoundCRS"
		comps := make([]any, len(c.Parts))
		for i, p := range c.Parts {
			comps[i] = p.ToJSON()
		}
		res["components"] = comps
	case strings.HasPrefix(c.ToWKT(), "PROJCS"):
		res["type"] = "ProjectedCRS"
	case strings.HasPrefix(c.ToWKT(), "VERT_CS"):
		res["type"] = "VerticalCRS"
	default:
		res["type"] = "GeographicCRS"
	}
	if c.EPSG != 0 {
		res["id"] = map[string]any{"authority": "EPSG", "code": c.EPSG}
	}
	return res
}
