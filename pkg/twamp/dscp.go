package twamp

// dscpNames maps DSCP code point names to their values. The TOS byte sent
// on the wire is the code point shifted into the upper six bits.
var dscpNames = map[string]int{
	"be": 0, "cp1": 1, "cp2": 2, "cp3": 3, "cp4": 4, "cp5": 5, "cp6": 6, "cp7": 7,
	"cs1": 8, "cp9": 9, "af11": 10, "cp11": 11, "af12": 12, "cp13": 13, "af13": 14, "cp15": 15,
	"cs2": 16, "cp17": 17, "af21": 18, "cp19": 19, "af22": 20, "cp21": 21, "af23": 22, "cp23": 23,
	"cs3": 24, "cp25": 25, "af31": 26, "cp27": 27, "af32": 28, "cp29": 29, "af33": 30, "cp31": 31,
	"cs4": 32, "cp33": 33, "af41": 34, "cp35": 35, "af42": 36, "cp37": 37, "af43": 38, "cp39": 39,
	"cs5": 40, "cp41": 41, "cp42": 42, "cp43": 43, "cp44": 44, "cp45": 45, "ef": 46, "cp47": 47,
	"nc1": 48, "cp49": 49, "cp50": 50, "cp51": 51, "cp52": 52, "cp53": 53, "cp54": 54, "cp55": 55,
	"nc2": 56, "cp57": 57, "cp58": 58, "cp59": 59, "cp60": 60, "cp61": 61, "cp62": 62, "cp63": 63,
}

// DSCPValue looks up a DSCP code point by name (e.g. "ef", "af11").
func DSCPValue(name string) (int, bool) {
	v, ok := dscpNames[name]
	return v, ok
}

// TOSFromDSCP converts a DSCP code point to the TOS/traffic-class byte.
func TOSFromDSCP(dscp int) int {
	return dscp << 2
}
