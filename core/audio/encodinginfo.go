// Package audio holds the PCM helpers used to turn rendered speech into
// something a browser client can play and animate.
package audio

const (
	DefaultSampleRate = 24000
	DefaultFormat     = "linear16"

	// DefaultSliceLength is the window, in milliseconds, volumes are
	// reported for.
	DefaultSliceLength = 20
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: EncodingLinear16}
}

type EncodingInfo struct {
	SampleRate int
	Format     EncodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// BytesPerSlice is the number of bytes covering sliceMs of audio.
func (e EncodingInfo) BytesPerSlice(sliceMs int) int {
	return e.SampleRate * sliceMs / 1000 * e.Format.ByteSize()
}

type EncodingFormat string

func (e EncodingFormat) Name() string {
	return string(e)
}

func (e EncodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    EncodingFormat = "mulaw"
	EncodingALaw     EncodingFormat = "alaw"
	EncodingLinear16 EncodingFormat = "linear16"
)
