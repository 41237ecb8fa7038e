package convert

import (
	"net/netip"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/paulmach/orb"

	"github.com/umputun/tablecrow/pkg/schema"
)

func roundTrip(v any, ft schema.FieldType) bool {
	wire, err := Serialize(v, ft)
	if err != nil {
		return false
	}
	back, err := Deserialize(wire, ft)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(v, back)
}

func TestProperty_ScalarRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("bool", prop.ForAll(func(v bool) bool { return roundTrip(v, schema.Bool) }, gen.Bool()))
	properties.Property("int", prop.ForAll(func(v int64) bool { return roundTrip(v, schema.Int) }, gen.Int64()))
	properties.Property("float", prop.ForAll(func(v float64) bool { return roundTrip(v, schema.Float) }, gen.Float64()))
	properties.Property("string", prop.ForAll(func(v string) bool { return roundTrip(v, schema.String) }, gen.AnyString()))
	properties.Property("bytes", prop.ForAll(func(v []byte) bool {
		if v == nil {
			v = []byte{}
		}
		return roundTrip(v, schema.Bytes)
	}, gen.SliceOf(gen.UInt8())))

	properties.Property("datetime with microseconds", prop.ForAll(func(sec, usec int64) bool {
		v := time.Unix(sec, usec*1000).UTC()
		return roundTrip(v, schema.DateTime)
	}, gen.Int64Range(0, 4102444800), gen.Int64Range(0, 999999)))

	properties.Property("date", prop.ForAll(func(days int) bool {
		v := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
		return roundTrip(v, schema.Date)
	}, gen.IntRange(0, 50000)))

	properties.Property("duration with microseconds", prop.ForAll(func(usec int64) bool {
		return roundTrip(time.Duration(usec)*time.Microsecond, schema.Duration)
	}, gen.Int64Range(-1e12, 1e12)))

	properties.Property("ipv4", prop.ForAll(func(a, b, c, d uint8) bool {
		return roundTrip(netip.AddrFrom4([4]byte{a, b, c, d}), schema.IP)
	}, gen.UInt8(), gen.UInt8(), gen.UInt8(), gen.UInt8()))

	properties.Property("point", prop.ForAll(func(x, y float64) bool {
		return roundTrip(orb.Point{x, y}, schema.Point)
	}, gen.Float64Range(-180, 180), gen.Float64Range(-90, 90)))

	properties.Property("string array", prop.ForAll(func(v []string) bool {
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		wire, err := Serialize(items, schema.Array(schema.String))
		if err != nil {
			return false
		}
		// arrays come back from the database as JSON text
		back, err := Deserialize(toJSON(wire), schema.Array(schema.String))
		return err == nil && reflect.DeepEqual(items, back)
	}, gen.SliceOf(gen.AlphaString())))

	properties.TestingRun(t)
}

func toJSON(v any) string {
	return ToString(v)
}
