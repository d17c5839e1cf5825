package genicam_test

import (
	"image"
	"testing"

	"github.com/slscan/rig/genicam"
)

func TestFrameFromBufferMono16(t *testing.T) {
	// little endian 0x0102, 0xfffe
	img, err := genicam.FrameFromBuffer(genicam.Mono16, 2, 1, []byte{0x02, 0x01, 0xfe, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	g, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("expected *image.Gray16, got %T", img)
	}
	if v := g.Gray16At(0, 0).Y; v != 0x0102 {
		t.Errorf("expected 0x0102, got %#x", v)
	}
	if v := g.Gray16At(1, 0).Y; v != 0xfffe {
		t.Errorf("expected 0xfffe, got %#x", v)
	}
}

func TestFrameFromBufferRGB8(t *testing.T) {
	img, err := genicam.FrameFromBuffer(genicam.RGB8, 1, 1, []byte{10, 20, 30})
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, a := img.At(0, 0).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 || a>>8 != 255 {
		t.Errorf("unexpected color %d %d %d %d", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestFrameFromBufferBayer(t *testing.T) {
	// R G
	// G B
	img, err := genicam.FrameFromBuffer(genicam.BayerRG, 2, 2, []byte{200, 100, 50, 10})
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r>>8 != 200 || g>>8 != 75 || b>>8 != 10 {
				t.Errorf("(%d,%d) expected 200 75 10, got %d %d %d", x, y, r>>8, g>>8, b>>8)
			}
		}
	}
}

func TestFrameFromBufferShort(t *testing.T) {
	if _, err := genicam.FrameFromBuffer(genicam.Mono8, 4, 4, make([]byte, 15)); err == nil {
		t.Error("expected an error for a short buffer")
	}
	if _, err := genicam.FrameFromBuffer("YUV422Packed", 1, 1, make([]byte, 4)); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
