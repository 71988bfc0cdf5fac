package webrtc

import "errors"

var errShortSPS = errors.New("sps truncated")

// bitReader reads big-endian bits and Exp-Golomb codes from an RBSP.
type bitReader struct {
	data []byte
	pos  int
}

func (r *bitReader) bit() (uint32, error) {
	if r.pos >= len(r.data)*8 {
		return 0, errShortSPS
	}
	b := r.data[r.pos/8] >> (7 - uint(r.pos%8)) & 1
	r.pos++
	return uint32(b), nil
}

func (r *bitReader) bits(n int) (uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

func (r *bitReader) ue() (uint32, error) {
	zeros := 0
	for {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errShortSPS
		}
	}
	rest, err := r.bits(zeros)
	if err != nil {
		return 0, err
	}
	return (1<<uint(zeros) - 1) + rest, nil
}

func (r *bitReader) se() (int32, error) {
	v, err := r.ue()
	if err != nil {
		return 0, err
	}
	if v&1 == 1 {
		return int32(v/2 + 1), nil
	}
	return -int32(v / 2), nil
}

// unescapeRBSP strips emulation prevention bytes (00 00 03).
func unescapeRBSP(nalu []byte) []byte {
	out := make([]byte, 0, len(nalu))
	zeros := 0
	for _, b := range nalu {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// parseSPSResolution returns the cropped picture size described by an H264
// sequence parameter set NAL unit (header byte included).
func parseSPSResolution(nalu []byte) (width, height int, err error) {
	if len(nalu) < 4 || nalType(nalu[0]) != nalSPS {
		return 0, 0, errors.New("not an sps")
	}
	r := &bitReader{data: unescapeRBSP(nalu[1:])}

	profile, err := r.bits(8)
	if err != nil {
		return 0, 0, err
	}
	// constraint flags + level_idc
	if _, err := r.bits(16); err != nil {
		return 0, 0, err
	}
	if _, err := r.ue(); err != nil { // seq_parameter_set_id
		return 0, 0, err
	}

	chromaFormat := uint32(1)
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		if chromaFormat, err = r.ue(); err != nil {
			return 0, 0, err
		}
		if chromaFormat == 3 {
			if _, err := r.bit(); err != nil { // separate_colour_plane_flag
				return 0, 0, err
			}
		}
		if _, err := r.ue(); err != nil { // bit_depth_luma_minus8
			return 0, 0, err
		}
		if _, err := r.ue(); err != nil { // bit_depth_chroma_minus8
			return 0, 0, err
		}
		if _, err := r.bit(); err != nil { // qpprime_y_zero_transform_bypass_flag
			return 0, 0, err
		}
		present, err := r.bit()
		if err != nil {
			return 0, 0, err
		}
		if present == 1 {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				listPresent, err := r.bit()
				if err != nil {
					return 0, 0, err
				}
				if listPresent == 0 {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				if err := skipScalingList(r, size); err != nil {
					return 0, 0, err
				}
			}
		}
	}

	if _, err := r.ue(); err != nil { // log2_max_frame_num_minus4
		return 0, 0, err
	}
	pocType, err := r.ue()
	if err != nil {
		return 0, 0, err
	}
	switch pocType {
	case 0:
		if _, err := r.ue(); err != nil {
			return 0, 0, err
		}
	case 1:
		if _, err := r.bit(); err != nil {
			return 0, 0, err
		}
		if _, err := r.se(); err != nil {
			return 0, 0, err
		}
		if _, err := r.se(); err != nil {
			return 0, 0, err
		}
		n, err := r.ue()
		if err != nil {
			return 0, 0, err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := r.se(); err != nil {
				return 0, 0, err
			}
		}
	}

	if _, err := r.ue(); err != nil { // max_num_ref_frames
		return 0, 0, err
	}
	if _, err := r.bit(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return 0, 0, err
	}
	widthMbs, err := r.ue()
	if err != nil {
		return 0, 0, err
	}
	heightMapUnits, err := r.ue()
	if err != nil {
		return 0, 0, err
	}
	frameMbsOnly, err := r.bit()
	if err != nil {
		return 0, 0, err
	}
	if frameMbsOnly == 0 {
		if _, err := r.bit(); err != nil { // mb_adaptive_frame_field_flag
			return 0, 0, err
		}
	}
	if _, err := r.bit(); err != nil { // direct_8x8_inference_flag
		return 0, 0, err
	}

	width = int(widthMbs+1) * 16
	height = int(2-frameMbsOnly) * int(heightMapUnits+1) * 16

	cropping, err := r.bit()
	if err != nil {
		return 0, 0, err
	}
	if cropping == 1 {
		var crop [4]uint32
		for i := range crop {
			if crop[i], err = r.ue(); err != nil {
				return 0, 0, err
			}
		}
		cropX, cropY := 1, 2-int(frameMbsOnly)
		switch chromaFormat {
		case 1:
			cropX, cropY = 2, 2*(2-int(frameMbsOnly))
		case 2:
			cropX = 2
		}
		width -= cropX * int(crop[0]+crop[1])
		height -= cropY * int(crop[2]+crop[3])
	}
	if width <= 0 || height <= 0 {
		return 0, 0, errors.New("sps has invalid dimensions")
	}
	return width, height, nil
}

func skipScalingList(r *bitReader, size int) error {
	last, next := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if next != 0 {
			delta, err := r.se()
			if err != nil {
				return err
			}
			next = (last + delta + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
	return nil
}
