package reading

import (
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/config"
)

// TimestampLayout is ISO-8601 with a numeric offset at second precision.
const TimestampLayout = "2006-01-02T15:04:05-07:00"

// Timestamp formats t for the lastseen field.
func Timestamp(t time.Time) string {
	return t.Truncate(time.Second).Format(TimestampLayout)
}

// FormatDecimals inserts a decimal point decimals digits from the right.
//
//	FormatDecimals(12345, 2) // "123.45"
//	FormatDecimals(-5, 2)    // "-0.05"
//	FormatDecimals(12345, 0) // "12345"
func FormatDecimals(n int64, decimals int) string {
	if decimals <= 0 {
		return strconv.FormatInt(n, 10)
	}

	sign := ""
	digits := strconv.FormatInt(n, 10)
	if n < 0 {
		sign = "-"
		digits = digits[1:]
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}

	cut := len(digits) - decimals
	return sign + digits[:cut] + "." + digits[cut:]
}

// FormatMask zero-pads n to the number of '#' placeholders in mask and
// substitutes the digits left to right. When n has more digits than
// placeholders the leading digits are kept and the trailing ones dropped.
//
//	FormatMask(7, "###")          // "007"
//	FormatMask(123456, "####.##") // "1234.56"
//	FormatMask(123456, "###")     // "123"
func FormatMask(n int64, mask string) string {
	slots := strings.Count(mask, "#")
	if slots == 0 {
		return mask
	}
	digits := zfill(strconv.FormatInt(n, 10), slots)

	var b strings.Builder
	b.Grow(len(mask))
	i := 0
	for _, r := range mask {
		if r == '#' {
			b.WriteByte(digits[i])
			i++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// zfill left-pads with zeros after any sign.
func zfill(s string, width int) string {
	if len(s) >= width {
		return s
	}
	sign := ""
	if s[0] == '-' || s[0] == '+' {
		sign, s = s[:1], s[1:]
	}
	return sign + strings.Repeat("0", width-len(s)-len(sign)) + s
}

// FormatConsumption applies the meter's display formatting. A non-zero
// decimals setting wins over a mask. Without formatting the raw value is
// returned as an int64 so it serialises as a JSON number.
func FormatConsumption(n int64, meter config.MeterConfig) any {
	if meter.Decimals != nil && *meter.Decimals > 0 {
		return FormatDecimals(n, *meter.Decimals)
	}
	if meter.Format != "" {
		return FormatMask(n, meter.Format)
	}
	return n
}
