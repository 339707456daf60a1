package pima

import "fmt"

const (
	discreteFailureBytes  = 6
	clusteredFailureBytes = 17
)

// discreteFailures are the system failures of the first failure block, by
// bit position.
var discreteFailures = [discreteFailureBytes * 8]string{
	"System Low Power",
	"Unknown (2)",
	"System Error",
	"Zone Failure",
	"Unknown (5)",
	"Auxiliary Voltage Failure (Fuse short)",
	"W/L Zone Low Battery",
	"Wireless Receiver Failure",
	"Low Battery",
	"Telephone Line Failure",
	"MAINS Failure (220V)",
	"Tamper 1 Open",
	"Tamper 2 Open",
	"Clock Not Set",
	"RAM Error",
	"Station Commuincation Failure",
	"Siren 1 Failure",
	"Siren 2 Failure",
	"SMS Communication",
	"SMS Card",
	"GSM200 Error",
	"Network Comm. Fault",
	"Radio Fault",
	"Keyfob Rec. Fault",
	"Wireless Receiver Tamper Open",
	"Wireless Jamming",
	"GSM-200 Failure",
	"GSM Communication Failure",
	"GSM-SIM Failure",
	"GSM Link Failure",
	"GSM Comm. Fault 2nd station",
	"W/L Zone Supervision",
	"Unknown (33)",
	"Network fault Station 2",
	"Net4Pro Fault",
	"VVR 1 Fault",
	"VVR 2 Fault",
	"VVR 3 Fault",
	"VVR 4 Fault",
	"VVR 1 Power Fault",
	"VVR 2 Power Fault",
	"VVR 3 Power Fault",
	"VVR 4 Power Fault",
	"Unknown (44)",
	"Unknown (45)",
	"Unknown (46)",
	"Unknown (47)",
	"Unknown (48)",
}

// clusteredFailures are per-device failures, each a bitfield of the given
// size where bit i is device i+1.
var clusteredFailures = []struct {
	format string
	size   int
}{
	{"Keypad %d Failure", 1},
	{"Keypad %d Tamper", 1},
	{"Zone Expander %d Failure", 2},
	{"Zone Expander %d Tamper", 2},
	{"Zone Expander %d Low Voltage", 2},
	{"Zone Expander %d AC Failure", 2},
	{"Zone Expander %d Low Battery", 2},
	{"Out Expander %d Failure", 1},
	{"Out Expander %d Tamper", 1},
	{"Out Expander %d Low Voltage", 1},
	{"Out Expander %d AC Failure", 1},
	{"Out Expander %d Low Battery", 1},
}

func decodeFailures(discrete, clustered []byte) []string {
	failures := []string{}
	for _, n := range bitsToNumbers(discrete, 1) {
		failures = append(failures, discreteFailures[n-1])
	}
	offset := 0
	for _, c := range clusteredFailures {
		for _, n := range bitsToNumbers(clustered[offset:offset+c.size], 1) {
			failures = append(failures, fmt.Sprintf(c.format, n))
		}
		offset += c.size
	}
	return failures
}
