package core

import "testing"

// particleRoundTrip writes v's fixed particle encoding and reads back a
// value of the same particle type through decodeParticle, the path a
// reply operation's value takes off the wire (§4.2/§6.1).
func particleRoundTrip(t *testing.T, v Value) Value {
	t.Helper()
	size := v.EstimateSize()
	if size < 0 {
		t.Fatalf("%v has no fixed encoding", v)
	}
	buf := make([]byte, size)
	n, err := v.Write(buf)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := decodeParticle(v.ParticleType(), buf[:n])
	if err != nil {
		t.Fatalf("decodeParticle: %v", err)
	}
	return got
}

func TestParticleRoundTripFixedTypes(t *testing.T) {
	cases := []Value{
		StringValue("hello"),
		BytesValue("raw-bytes"),
		IntegerValue(-12345),
		UnsignedValue(42),
		DoubleValue(3.25),
		BoolValue(true),
		BoolValue(false),
	}
	for _, v := range cases {
		got := particleRoundTrip(t, v)
		if got.String() != v.String() {
			t.Errorf("round trip %T(%v): got %v", v, v, got)
		}
	}
}

func TestUnsignedValueHighBitGrowsEncoding(t *testing.T) {
	v := UnsignedValue(1 << 63)
	if v.EstimateSize() != 9 {
		t.Fatalf("EstimateSize() = %d, want 9 for a high-bit-set unsigned value", v.EstimateSize())
	}
	low := UnsignedValue(42)
	if low.EstimateSize() != 8 {
		t.Fatalf("EstimateSize() = %d, want 8 for a low unsigned value", low.EstimateSize())
	}
}

// packUnpackRoundTrip packs v via Packer and decodes it back via Unpacker,
// the CDT bin encoding path used inside lists and maps (§4.2).
func packUnpackRoundTrip(t *testing.T, v Value) Value {
	t.Helper()
	p := NewPacker(64)
	if err := v.Pack(p); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := NewUnpacker(p.Bytes()).UnpackValue()
	if err != nil {
		t.Fatalf("UnpackValue: %v", err)
	}
	return got
}

func TestMessagePackRoundTripScalars(t *testing.T) {
	cases := []Value{
		NullValue{},
		StringValue("bin-string"),
		IntegerValue(-7),
		IntegerValue(1000000),
		DoubleValue(2.5),
		BoolValue(true),
		BytesValue([]byte{1, 2, 3}),
	}
	for _, v := range cases {
		got := packUnpackRoundTrip(t, v)
		if got.String() != v.String() {
			t.Errorf("round trip %T(%v): got %T(%v)", v, v, got, got)
		}
	}
}

func TestMessagePackRoundTripList(t *testing.T) {
	list := ListValue{IntegerValue(1), StringValue("two"), BoolValue(true)}
	got := packUnpackRoundTrip(t, list)
	gotList, ok := got.(ListValue)
	if !ok {
		t.Fatalf("got %T, want ListValue", got)
	}
	if len(gotList) != len(list) {
		t.Fatalf("list length = %d, want %d", len(gotList), len(list))
	}
	for i := range list {
		if gotList[i].String() != list[i].String() {
			t.Errorf("element %d: got %v, want %v", i, gotList[i], list[i])
		}
	}
}

func TestMessagePackRoundTripMapPreservesOrder(t *testing.T) {
	m := MapValue{
		Order: MapKeyOrdered,
		Entries: []MapEntry{
			{Key: StringValue("a"), Value: IntegerValue(1)},
			{Key: StringValue("b"), Value: IntegerValue(2)},
		},
	}
	got := packUnpackRoundTrip(t, m)
	gotMap, ok := got.(MapValue)
	if !ok {
		t.Fatalf("got %T, want MapValue", got)
	}
	if gotMap.Order != MapKeyOrdered {
		t.Fatalf("map order = %v, want MapKeyOrdered (sentinel entry lost)", gotMap.Order)
	}
	if len(gotMap.Entries) != len(m.Entries) {
		t.Fatalf("entries = %d, want %d", len(gotMap.Entries), len(m.Entries))
	}
	for i, e := range m.Entries {
		if gotMap.Entries[i].Key.String() != e.Key.String() || gotMap.Entries[i].Value.String() != e.Value.String() {
			t.Errorf("entry %d mismatch: got %+v, want %+v", i, gotMap.Entries[i], e)
		}
	}
}

func TestMessagePackRoundTripUnorderedMapHasNoSentinel(t *testing.T) {
	m := MapValue{Entries: []MapEntry{{Key: IntegerValue(1), Value: IntegerValue(2)}}}
	got := packUnpackRoundTrip(t, m).(MapValue)
	if got.Order != MapUnordered {
		t.Fatalf("order = %v, want MapUnordered", got.Order)
	}
	if len(got.Entries) != 1 {
		t.Fatalf("entries = %d, want 1 (sentinel should not appear as a real entry)", len(got.Entries))
	}
}

func TestInfinityAndWildcardRoundTrip(t *testing.T) {
	inf := packUnpackRoundTrip(t, InfinityValue{})
	if _, ok := inf.(InfinityValue); !ok {
		t.Fatalf("got %T, want InfinityValue", inf)
	}
	wc := packUnpackRoundTrip(t, WildcardValue{})
	if _, ok := wc.(WildcardValue); !ok {
		t.Fatalf("got %T, want WildcardValue", wc)
	}
}

func TestGeoJSONRoundTripThroughParticle(t *testing.T) {
	v := GeoJSONValue(`{"type":"Point"}`)
	size := v.EstimateSize()
	buf := make([]byte, size)
	n, err := v.Write(buf)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := decodeParticle(ParticleGeoJSON, buf[:n])
	if err != nil {
		t.Fatalf("decodeParticle: %v", err)
	}
	blob, ok := got.(LanguageBlobValue)
	if !ok {
		t.Fatalf("got %T, want LanguageBlobValue (GeoJSON replies carry their flags/ncells prefix raw)", got)
	}
	if blob.Type != ParticleGeoJSON {
		t.Fatalf("blob type = %v, want GEOJSON", blob.Type)
	}
}
