package browserpool

import "math/rand"

// Fingerprint binds a user agent to a viewport for the lifetime of one
// browser context. Rotating both together keeps sessions from looking
// statistically identical across jobs.
type Fingerprint struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:132.0) Gecko/20100101 Firefox/132.0",
}

var viewports = [][2]int{
	{1920, 1080},
	{1366, 768},
	{1536, 864},
	{1440, 900},
}

// RandomFingerprint draws a fresh user agent and viewport from the
// rotation lists.
func RandomFingerprint() Fingerprint {
	vp := viewports[rand.Intn(len(viewports))]
	return Fingerprint{
		UserAgent:      userAgents[rand.Intn(len(userAgents))],
		ViewportWidth:  vp[0],
		ViewportHeight: vp[1],
	}
}
