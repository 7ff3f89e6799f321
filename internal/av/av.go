// Package av identifies codec sequence headers (AAC AudioSpecificConfig,
// AVC/HEVC decoder configuration records) for diagnostics. None of this is
// required to relay media, and no other package in this module calls it.
package av

import "fmt"

var aacSampleRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// AACSpecificConfig is the parsed form of an AAC AudioSpecificConfig, the
// payload of an AAC sequence header (soundFormat=10, AACPacketType=0).
type AACSpecificConfig struct {
	AudioObjectType int
	SampleRate      int
	Channels        int
}

// ReadAACSpecificConfig parses the AudioSpecificConfig bytes that follow the
// two FLV audio tag header bytes.
func ReadAACSpecificConfig(data []byte) (AACSpecificConfig, bool) {
	if len(data) < 2 {
		return AACSpecificConfig{}, false
	}

	b := newBitReader(data)

	objType := getAudioObjectType(b)
	sampleRateIdx := int(b.Read(4))

	sampleRate := 0
	if sampleRateIdx == 0x0F {
		sampleRate = int(b.Read(24))
	} else if sampleRateIdx < len(aacSampleRates) {
		sampleRate = aacSampleRates[sampleRateIdx]
	}

	channels := int(b.Read(4))

	return AACSpecificConfig{
		AudioObjectType: objType,
		SampleRate:      sampleRate,
		Channels:        channels,
	}, true
}

func getAudioObjectType(b *bitReader) int {
	t := int(b.Read(5))
	if t == 31 {
		t = 32 + int(b.Read(6))
	}
	return t
}

// AACProfileName maps an AudioObjectType to its common profile name.
func AACProfileName(objType int) string {
	switch objType {
	case 1:
		return "Main"
	case 2:
		return "LC"
	case 3:
		return "SSR"
	case 4:
		return "LTP"
	case 5:
		return "SBR"
	default:
		return fmt.Sprintf("AOT%d", objType)
	}
}

// AVCSpecificConfig is the parsed form of an H.264 AVCDecoderConfigurationRecord.
type AVCSpecificConfig struct {
	ProfileIDC   int
	ProfileCompat int
	LevelIDC     int
	Width        int
	Height       int
}

// ReadAVCSpecificConfig parses enough of an AVCDecoderConfigurationRecord to
// identify the profile/level; it does not decode the full SPS RBSP beyond
// the fields needed for width/height.
func ReadAVCSpecificConfig(data []byte) (AVCSpecificConfig, bool) {
	if len(data) < 7 || data[0] != 1 {
		return AVCSpecificConfig{}, false
	}

	cfg := AVCSpecificConfig{
		ProfileIDC:    int(data[1]),
		ProfileCompat: int(data[2]),
		LevelIDC:      int(data[3]),
	}

	numSPS := int(data[5] & 0x1F)
	if numSPS == 0 || len(data) < 8 {
		return cfg, true
	}

	spsLen := int(data[6])<<8 | int(data[7])
	if len(data) < 8+spsLen {
		return cfg, true
	}

	sps := data[8 : 8+spsLen]
	w, h := parseAVCSPSResolution(sps)
	cfg.Width = w
	cfg.Height = h

	return cfg, true
}

// parseAVCSPSResolution walks the subset of the H.264 SPS RBSP needed to
// derive pic_width/pic_height in pixels, after the NAL header byte.
func parseAVCSPSResolution(sps []byte) (int, int) {
	if len(sps) < 4 {
		return 0, 0
	}

	b := newBitReader(sps[1:]) // skip NAL header byte

	profileIDC := b.Read(8)
	b.Read(8) // constraint flags + reserved
	b.Read(8) // level_idc
	b.ReadGolomb() // seq_parameter_set_id

	if profileIDC == 100 || profileIDC == 110 || profileIDC == 122 || profileIDC == 244 ||
		profileIDC == 44 || profileIDC == 83 || profileIDC == 86 || profileIDC == 118 || profileIDC == 128 {
		chromaFormatIDC := b.ReadGolomb()
		if chromaFormatIDC == 3 {
			b.Read(1)
		}
		b.ReadGolomb() // bit_depth_luma_minus8
		b.ReadGolomb() // bit_depth_chroma_minus8
		b.Read(1)      // qpprime_y_zero_transform_bypass_flag
		if b.Read(1) == 1 {
			for i := 0; i < 8; i++ {
				// scaling_list_present_flag; skip scaling lists entirely is
				// unsafe without full parsing, so bail to avoid misreading
				// the rest of the header.
				if b.Read(1) == 1 {
					return 0, 0
				}
			}
		}
	}

	b.ReadGolomb() // log2_max_frame_num_minus4
	picOrderCntType := b.ReadGolomb()
	if picOrderCntType == 0 {
		b.ReadGolomb()
	} else if picOrderCntType == 1 {
		b.Read(1)
		b.ReadGolomb()
		b.ReadGolomb()
		n := b.ReadGolomb()
		for i := uint32(0); i < n; i++ {
			b.ReadGolomb()
		}
	}

	b.ReadGolomb() // max_num_ref_frames
	b.Read(1)      // gaps_in_frame_num_value_allowed_flag

	picWidthInMbsMinus1 := b.ReadGolomb()
	picHeightInMapUnitsMinus1 := b.ReadGolomb()
	frameMbsOnly := b.Read(1)
	if frameMbsOnly == 0 {
		b.Read(1)
	}
	b.Read(1) // direct_8x8_inference_flag

	cropLeft, cropRight, cropTop, cropBottom := uint32(0), uint32(0), uint32(0), uint32(0)
	if b.Read(1) == 1 {
		cropLeft = b.ReadGolomb()
		cropRight = b.ReadGolomb()
		cropTop = b.ReadGolomb()
		cropBottom = b.ReadGolomb()
	}

	width := (picWidthInMbsMinus1 + 1) * 16
	heightMul := uint32(2)
	if frameMbsOnly == 1 {
		heightMul = 1
	}
	height := (picHeightInMapUnitsMinus1 + 1) * 16 * heightMul

	width -= (cropLeft + cropRight) * 2
	height -= (cropTop + cropBottom) * 2 * heightMul

	return int(width), int(height)
}

// HEVCSpecificConfig is the subset of an HEVCDecoderConfigurationRecord
// required to identify the profile in use.
type HEVCSpecificConfig struct {
	GeneralProfileIDC int
	GeneralLevelIDC   int
}

// ReadHEVCSpecificConfig parses the fixed-position profile/level fields of
// an HEVCDecoderConfigurationRecord (ISO/IEC 14496-15).
func ReadHEVCSpecificConfig(data []byte) (HEVCSpecificConfig, bool) {
	if len(data) < 13 {
		return HEVCSpecificConfig{}, false
	}

	return HEVCSpecificConfig{
		GeneralProfileIDC: int(data[1] & 0x1F),
		GeneralLevelIDC:   int(data[12]),
	}, true
}

// AVCProfileName maps a profile_idc byte to its common name.
func AVCProfileName(profileIDC int) string {
	switch profileIDC {
	case 66:
		return "Baseline"
	case 77:
		return "Main"
	case 88:
		return "Extended"
	case 100:
		return "High"
	case 110:
		return "High10"
	case 122:
		return "High422"
	case 244:
		return "High444"
	default:
		return fmt.Sprintf("Profile%d", profileIDC)
	}
}
