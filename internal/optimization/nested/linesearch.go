package nested

import "math"

const (
	goldenRatio   = 1.618033988749895
	goldenSection = 0.3819660112501051
	bracketTiny   = 1e-21
	bracketLimit  = 110.0
	bracketMaxIt  = 1000

	brentTol     = 1.48e-8
	brentMaxIter = 500
	brentZeps    = 1e-11
)

// bracket searches downhill from a and b for a triple a, b, c with
// f(b) below both f(a) and f(c), using golden-ratio steps and parabolic
// extrapolation.
func bracket(f func(float64) float64, a, b float64) (xa, xb, xc, fa, fb, fc float64) {
	fa, fb = f(a), f(b)
	if fb > fa {
		a, b = b, a
		fa, fb = fb, fa
	}
	c := b + goldenRatio*(b-a)
	fc = f(c)

	for it := 0; fc < fb; it++ {
		if it >= bracketMaxIt {
			break
		}
		tmp1 := (b - a) * (fb - fc)
		tmp2 := (b - c) * (fb - fa)
		val := tmp2 - tmp1
		denom := 2 * val
		if math.Abs(val) < bracketTiny {
			denom = 2 * bracketTiny
		}
		w := b - ((b-c)*tmp2-(b-a)*tmp1)/denom
		wlim := b + bracketLimit*(c-b)

		var fw float64
		switch {
		case (w-c)*(b-w) > 0:
			fw = f(w)
			if fw < fc {
				return b, w, c, fb, fw, fc
			}
			if fw > fb {
				return a, b, w, fa, fb, fw
			}
			w = c + goldenRatio*(c-b)
			fw = f(w)
		case (w-wlim)*(wlim-c) >= 0:
			w = wlim
			fw = f(w)
		case (w-wlim)*(c-w) > 0:
			fw = f(w)
			if fw < fc {
				b, c = c, w
				w = c + goldenRatio*(c-b)
				fb, fc = fc, fw
				fw = f(w)
			}
		default:
			w = c + goldenRatio*(c-b)
			fw = f(w)
		}
		a, b, c = b, c, w
		fa, fb, fc = fb, fc, fw
	}
	return a, b, c, fa, fb, fc
}

// brent minimises f along a line starting from the bracket of [0, 1] and
// returns the abscissa of the minimum and its value.
func brent(f func(float64) float64) (float64, float64) {
	a, b, c, _, fb, _ := bracket(f, 0, 1)
	lo, hi := a, c
	if c < a {
		lo, hi = c, a
	}

	x, w, v := b, b, b
	fx, fw, fv := fb, fb, fb
	var d, e float64

	for it := 0; it < brentMaxIter; it++ {
		tol1 := brentTol*math.Abs(x) + brentZeps
		tol2 := 2 * tol1
		xm := 0.5 * (lo + hi)
		if math.Abs(x-xm) <= tol2-0.5*(hi-lo) {
			break
		}

		golden := true
		if math.Abs(e) > tol1 {
			// Try a parabolic step through x, w and v.
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			etemp := e
			e = d
			if !(math.Abs(p) >= math.Abs(0.5*q*etemp) || p <= q*(lo-x) || p >= q*(hi-x)) {
				golden = false
				d = p / q
				if u := x + d; u-lo < tol2 || hi-u < tol2 {
					d = math.Copysign(tol1, xm-x)
					if xm-x == 0 {
						d = tol1
					}
				}
			}
		}
		if golden {
			if x >= xm {
				e = lo - x
			} else {
				e = hi - x
			}
			d = goldenSection * e
		}

		var u float64
		switch {
		case math.Abs(d) >= tol1:
			u = x + d
		case d >= 0:
			u = x + tol1
		default:
			u = x - tol1
		}
		fu := f(u)

		if fu <= fx {
			if u >= x {
				lo = x
			} else {
				hi = x
			}
			v, w, x = w, x, u
			fv, fw, fx = fw, fx, fu
			continue
		}
		if u < x {
			lo = u
		} else {
			hi = u
		}
		switch {
		case fu <= fw || w == x:
			v, w = w, u
			fv, fw = fw, fu
		case fu <= fv || v == x || v == w:
			v, fv = u, fu
		}
	}
	return x, fx
}
