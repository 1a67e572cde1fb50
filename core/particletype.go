package core

// ParticleType is the server's one-byte type tag for a stored value.
// Wire-compatible with the values a real cluster reports in operation
// and bin headers (§4.3/§6.1 of the wire format).
type ParticleType uint8

const (
	ParticleNull       ParticleType = 0
	ParticleInteger    ParticleType = 1
	ParticleDouble     ParticleType = 2
	ParticleString     ParticleType = 3
	ParticleBlob       ParticleType = 4
	ParticleJavaBlob    ParticleType = 7
	ParticleCSharpBlob ParticleType = 8
	ParticlePythonBlob ParticleType = 9
	ParticleRubyBlob   ParticleType = 10
	ParticlePHPBlob    ParticleType = 11
	ParticleErlangBlob ParticleType = 12
	ParticleBool       ParticleType = 17
	ParticleHLL        ParticleType = 18
	ParticleMap        ParticleType = 19
	ParticleList       ParticleType = 20
	ParticleGeoJSON    ParticleType = 23
)

func (t ParticleType) String() string {
	switch t {
	case ParticleNull:
		return "NULL"
	case ParticleInteger:
		return "INTEGER"
	case ParticleDouble:
		return "DOUBLE"
	case ParticleString:
		return "STRING"
	case ParticleBlob:
		return "BLOB"
	case ParticleJavaBlob:
		return "JAVA_BLOB"
	case ParticleCSharpBlob:
		return "CSHARP_BLOB"
	case ParticlePythonBlob:
		return "PYTHON_BLOB"
	case ParticleRubyBlob:
		return "RUBY_BLOB"
	case ParticlePHPBlob:
		return "PHP_BLOB"
	case ParticleErlangBlob:
		return "ERLANG_BLOB"
	case ParticleBool:
		return "BOOL"
	case ParticleHLL:
		return "HLL"
	case ParticleMap:
		return "MAP"
	case ParticleList:
		return "LIST"
	case ParticleGeoJSON:
		return "GEOJSON"
	default:
		return "UNKNOWN"
	}
}

// digestable reports whether a value of this particle type may be used as
// a Key's user key. Collection and opaque types cannot be digested (§3).
func (t ParticleType) digestable() bool {
	switch t {
	case ParticleInteger, ParticleDouble, ParticleString, ParticleBlob:
		return true
	default:
		return false
	}
}
