// Package stealth paces browser interactions at a human-like cadence.
// Outreach actions run one at a time, so the delays here are the main
// throughput knob; they are deliberately generous.
package stealth

import (
	"math"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// SleepRandom sleeps for a uniform random duration in [minMs, maxMs].
func SleepRandom(minMs, maxMs int) {
	if maxMs < minMs {
		maxMs = minMs
	}
	time.Sleep(time.Duration(minMs+rand.Intn(maxMs-minMs+1)) * time.Millisecond)
}

// SleepGaussian clusters delays around meanMs; human pauses are not
// uniform.
func SleepGaussian(meanMs, stdDevMs int) {
	u1, u2 := rand.Float64(), rand.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	delay := int(float64(meanMs) + z*float64(stdDevMs))
	if lo := meanMs - 3*stdDevMs; delay < lo {
		delay = lo
	}
	if hi := meanMs + 3*stdDevMs; delay > hi {
		delay = hi
	}
	if delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
}

func ThinkTime() { SleepGaussian(1400, 600) }

// InActiveWindow reports whether the current local time falls inside the
// configured HH:MM active hours.
func InActiveWindow(start, end string) bool {
	now := time.Now()
	s, _ := time.Parse("15:04", start)
	e, _ := time.Parse("15:04", end)
	startToday := time.Date(now.Year(), now.Month(), now.Day(), s.Hour(), s.Minute(), 0, 0, now.Location())
	endToday := time.Date(now.Year(), now.Month(), now.Day(), e.Hour(), e.Minute(), 0, 0, now.Location())
	return now.After(startToday) && now.Before(endToday)
}

// MoveMouse moves along a jittered bezier curve with eased speed.
func MoveMouse(p *rod.Page, fromX, fromY, toX, toY int) {
	dist := math.Hypot(float64(toX-fromX), float64(toY-fromY))
	steps := 40 + int(dist/20) + rand.Intn(15)

	cx1 := fromX + (toX-fromX)/3 + rand.Intn(100) - 50
	cy1 := fromY + (toY-fromY)/3 + rand.Intn(100) - 50
	cx2 := fromX + 2*(toX-fromX)/3 + rand.Intn(100) - 50
	cy2 := fromY + 2*(toY-fromY)/3 + rand.Intn(100) - 50

	for i := 0; i <= steps; i++ {
		t := easeInOut(float64(i) / float64(steps))
		x := bezier(float64(fromX), float64(cx1), float64(cx2), float64(toX), t) + float64(rand.Intn(3)-1)
		y := bezier(float64(fromY), float64(cy1), float64(cy2), float64(toY), t) + float64(rand.Intn(3)-1)
		_ = proto.InputDispatchMouseEvent{
			Type: proto.InputDispatchMouseEventTypeMouseMoved,
			X:    x,
			Y:    y,
		}.Call(p)
		delay := 8 + rand.Intn(10)
		if i < 5 || i > steps-5 {
			delay += 5
		}
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
}

func easeInOut(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func bezier(p0, p1, p2, p3, t float64) float64 {
	return math.Pow(1-t, 3)*p0 +
		3*math.Pow(1-t, 2)*t*p1 +
		3*(1-t)*math.Pow(t, 2)*p2 +
		math.Pow(t, 3)*p3
}

func viewport(p *rod.Page) (int, int) {
	width, height := 1400, 900
	if dims, err := p.Eval(`() => ({width: window.innerWidth, height: window.innerHeight})`); err == nil {
		if w := dims.Value.Get("width").Int(); w > 0 {
			width = w
		}
		if h := dims.Value.Get("height").Int(); h > 0 {
			height = h
		}
	}
	return width, height
}

// SettleIn runs the arrival choreography for a freshly loaded page: mouse
// enters from an edge, drifts to the middle, brief pause.
func SettleIn(p *rod.Page) {
	width, height := viewport(p)
	starts := [][2]int{
		{100, 100},
		{width - 100, 100},
		{width / 2, 100},
		{100, height / 2},
	}
	from := starts[rand.Intn(len(starts))]
	MoveMouse(p, from[0], from[1], width/2+rand.Intn(200)-100, height/2+rand.Intn(200)-100)
	ThinkTime()
}

// Click scrolls el into view and clicks it through real mouse events at a
// randomized point inside the element.
func Click(p *rod.Page, el *rod.Element) error {
	_ = el.ScrollIntoView()
	SleepGaussian(300, 150)

	shape, err := el.Shape()
	if err != nil || len(shape.Quads) == 0 {
		return el.Click("left", 1)
	}
	box := shape.Box()
	targetX := int(box.X + box.Width*(0.3+rand.Float64()*0.4))
	targetY := int(box.Y + box.Height*(0.3+rand.Float64()*0.4))

	width, height := viewport(p)
	MoveMouse(p, width/2, height/2, targetX, targetY)
	SleepRandom(50, 150)

	down := proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMousePressed,
		X:          float64(targetX),
		Y:          float64(targetY),
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}
	_ = down.Call(p)
	SleepRandom(30, 90)
	down.Type = proto.InputDispatchMouseEventTypeMouseReleased
	_ = down.Call(p)
	return nil
}

// Type enters text with a human rhythm: slower at the start, pauses at
// punctuation, occasional typo followed by a correction.
func Type(el *rod.Element, text string) error {
	for i, r := range text {
		if rand.Float64() < 0.02 && i > 3 {
			_ = el.Input(nearbyKey(r))
			SleepRandom(80, 180)
			_ = el.Input("\b")
			SleepRandom(100, 250)
		}
		if err := el.Input(string(r)); err != nil {
			return err
		}
		base := 25
		switch {
		case i < 10:
			base = 40
		case r == ' ' || r == ',' || r == '.':
			base = 60
		}
		SleepGaussian(base, 20)
		if rand.Float64() < 0.05 {
			SleepGaussian(300, 150)
		}
	}
	return nil
}

func nearbyKey(r rune) string {
	nearby := map[rune][]rune{
		'a': {'s', 'q', 'w', 'z'},
		'e': {'w', 'r', 'd'},
		'i': {'u', 'o', 'k', 'j'},
		'o': {'i', 'p', 'l', 'k'},
		's': {'a', 'd', 'w', 'x'},
		't': {'r', 'y', 'g', 'f'},
	}
	if opts, ok := nearby[r]; ok {
		return string(opts[rand.Intn(len(opts))])
	}
	opts := []rune{'a', 'e', 'i', 'o', 'u', 's', 'n', 't', 'r', 'l'}
	return string(opts[rand.Intn(len(opts))])
}

// Scroll skims down the page in uneven bursts, sometimes backtracking.
func Scroll(p *rod.Page) {
	steps := 3 + rand.Intn(5)
	for i := 0; i < steps; i++ {
		px := 300 + rand.Intn(500)
		_, _ = p.Eval(`(dy) => window.scrollBy({top: dy, behavior: 'smooth'})`, px)
		SleepGaussian(400, 200)
		if rand.Float64() < 0.4 {
			SleepGaussian(1200, 500)
		}
	}
	if rand.Float64() < 0.4 {
		_, _ = p.Eval(`(dy) => window.scrollBy({top: dy, behavior: 'smooth'})`, -(100 + rand.Intn(120)))
		SleepRandom(300, 700)
	}
}
