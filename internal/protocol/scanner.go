package protocol

// MaxResponseHeader bounds the Upgrade response header block. A server that
// sends more without a terminating blank line is rejected.
const MaxResponseHeader = 8192

const (
	minResponseLen = 17 // shortest plausible "HTTP/1.1 101 X\r\n\r\n"
	statusOffset   = 9  // len("HTTP/1.1 ")
)

// ScanResponse looks for the "\r\n\r\n" header terminator in buf. Until it
// is found both results are 0 and the caller must read more. Once found, end
// is the offset just past the terminator and status is the 3-digit code that
// follows the "HTTP/x.y " prefix, or -1 if those bytes are not digits.
func ScanResponse(buf []byte) (status, end int) {
	if len(buf) < minResponseLen {
		return 0, 0
	}

	state := 0
	for i, c := range buf {
		switch {
		case state == 0 && c == '\r':
			state = 1
		case state == 1 && c == '\n':
			state = 2
		case state == 2 && c == '\r':
			state = 3
		case state == 3 && c == '\n':
			return parseStatus(buf[statusOffset : statusOffset+3]), i + 1
		case c == '\r':
			// mismatch, but the byte itself opens a new match
			state = 1
		default:
			state = 0
		}
	}
	return 0, 0
}

func parseStatus(b []byte) int {
	code := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1
		}
		code = code*10 + int(c-'0')
	}
	return code
}
