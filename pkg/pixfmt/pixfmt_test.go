package pixfmt

import "testing"

func TestBytesPerPixel(t *testing.T) {
	cases := []struct {
		bpp  uint8
		want int
	}{
		{8, 1}, {16, 2}, {24, 3}, {32, 4},
	}
	for _, c := range cases {
		pf := PixelFormat{BitsPerPixel: c.bpp}
		if got := pf.BytesPerPixel(); got != c.want {
			t.Errorf("BytesPerPixel(%d) = %d, want %d", c.bpp, got, c.want)
		}
	}
}

func TestRowOffsetTightPacking(t *testing.T) {
	const stride, bpp = 10, 4
	for y := 0; y < 5; y++ {
		want := y * stride * bpp
		if got := RowOffset(y, stride, bpp); got != want {
			t.Errorf("RowOffset(%d, %d, %d) = %d, want %d", y, stride, bpp, got, want)
		}
	}
}

func TestRowOffsetWiderStrideThanWidth(t *testing.T) {
	// A padded framebuffer (stride > width) must still address row starts
	// correctly; RowLength stays in terms of the logical width, not stride.
	const w, stride, bpp = 8, 16, 4
	row0 := RowOffset(0, stride, bpp)
	row1 := RowOffset(1, stride, bpp)
	if row1-row0 != stride*bpp {
		t.Fatalf("row stride gap = %d, want %d", row1-row0, stride*bpp)
	}
	if got := RowLength(w, bpp); got != w*bpp {
		t.Fatalf("RowLength(%d, %d) = %d, want %d", w, bpp, got, w*bpp)
	}
}

func TestRowLength(t *testing.T) {
	if got := RowLength(32, 4); got != 128 {
		t.Fatalf("RowLength(32, 4) = %d, want 128", got)
	}
}

func TestStringDoesNotPanic(t *testing.T) {
	pf := PixelFormat{BitsPerPixel: 32, Depth: 24, TrueColour: true, RedMax: 255, GreenMax: 255, BlueMax: 255, RedShift: 16, GreenShift: 8, BlueShift: 0}
	if pf.String() == "" {
		t.Fatal("String() returned empty")
	}
}
