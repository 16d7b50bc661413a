// Package device generates the Android device descriptor an account logs in
// with.
package device

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"

	"github.com/google/uuid"

	"github.com/pmkol/ichika-x/pkg/engine"
)

const (
	alnum      = "0123456789abcdefghijklmnopqrstuvwxyz"
	imeiPrefix = "86"
)

// Seed derives a stable generator seed from an account and protocol, so a
// lost descriptor can be regenerated identically.
func Seed(uin int64, protocol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(uin, 10)))
	h.Write([]byte{0})
	h.Write([]byte(protocol))
	return int64(h.Sum64())
}

// ForAccount is Generate seeded by Seed(uin, protocol).
func ForAccount(uin int64, protocol string) *engine.Device {
	return Generate(rand.New(rand.NewSource(Seed(uin, protocol))))
}

// Generate builds a random device descriptor. The output only depends on r.
func Generate(r *rand.Rand) *engine.Device {
	bootID, err := uuid.NewRandomFromReader(r)
	if err != nil {
		// math/rand never fails to read.
		panic(err)
	}
	mac := randomMAC(r)
	imsi := make([]byte, 16)
	r.Read(imsi)
	imsiSum := md5.Sum(imsi)
	androidID := make([]byte, 8)
	r.Read(androidID)

	return &engine.Device{
		Display:     fmt.Sprintf("ICHIKA.%s.001", digits(r, 6)),
		Product:     "iarim",
		Device:      "sagit",
		Board:       "eomam",
		Model:       "MI 6",
		FingerPrint: fmt.Sprintf("xiaomi/iarim/sagit:10/eomam.200122.001/%s:user/release-keys", digits(r, 7)),
		BootID:      bootID.String(),
		ProcVersion: fmt.Sprintf("Linux 5.4.0-54-generic-%s (android-build@google.com)", randString(r, alnum, 8)),
		IMEI:        IMEI(r),
		Brand:       "Xiaomi",
		Bootloader:  "U-boot",
		BaseBand:    "",
		Version: engine.OSVersion{
			Incremental: "5891938",
			Release:     "10",
			Codename:    "REL",
			SDK:         29,
		},
		SimInfo:      "T-Mobile",
		OSType:       "android",
		MacAddress:   mac,
		IPAddress:    []uint8{10, 0, 1, 3},
		WifiBSSID:    mac,
		WifiSSID:     "<unknown ssid>",
		IMSIMD5:      imsiSum[:],
		AndroidID:    hex.EncodeToString(androidID),
		APN:          "wifi",
		VendorName:   "MIUI",
		VendorOSName: "ichika",
	}
}

// IMEI returns a 15 digit IMEI whose last digit is the luhn check digit.
func IMEI(r *rand.Rand) string {
	body := imeiPrefix + digits(r, 14-len(imeiPrefix))
	return body + strconv.Itoa(LuhnDigit(body))
}

// LuhnDigit computes the check digit to append to the decimal string s.
func LuhnDigit(s string) int {
	sum := 0
	double := true
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}

// LuhnValid reports whether s ends with a correct luhn check digit.
func LuhnValid(s string) bool {
	if len(s) < 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return LuhnDigit(s[:len(s)-1]) == int(s[len(s)-1]-'0')
}

func randomMAC(r *rand.Rand) string {
	return fmt.Sprintf("00:50:%02X:%02X:%02X:%02X", r.Intn(256), r.Intn(256), r.Intn(256), r.Intn(256))
}

func digits(r *rand.Rand, n int) string {
	return randString(r, alnum[:10], n)
}

func randString(r *rand.Rand, charset string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[r.Intn(len(charset))]
	}
	return string(b)
}
