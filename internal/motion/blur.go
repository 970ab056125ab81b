package motion

// boxBlur applies a separable k x k mean filter from src into dst using tmp as
// the intermediate buffer. Edges are clamped. k <= 1 copies src unchanged.
func boxBlur(src, tmp, dst []uint8, w, h, k int) {
	if k <= 1 {
		copy(dst, src)
		return
	}
	r := k / 2

	for y := 0; y < h; y++ {
		row := y * w
		sum := 0
		for i := -r; i <= r; i++ {
			sum += int(src[row+clamp(i, w)])
		}
		for x := 0; x < w; x++ {
			tmp[row+x] = uint8((sum + r) / k)
			sum += int(src[row+clamp(x+r+1, w)]) - int(src[row+clamp(x-r, w)])
		}
	}

	for x := 0; x < w; x++ {
		sum := 0
		for i := -r; i <= r; i++ {
			sum += int(tmp[clamp(i, h)*w+x])
		}
		for y := 0; y < h; y++ {
			dst[y*w+x] = uint8((sum + r) / k)
			sum += int(tmp[clamp(y+r+1, h)*w+x]) - int(tmp[clamp(y-r, h)*w+x])
		}
	}
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
