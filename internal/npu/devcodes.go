package npu

import "fmt"

// DevCode identifies an eDIN+ module type on the MBus.
// Values are taken from the Gateway Interface v2.0.3 documentation.
type DevCode int

const (
	DevCodeLCDPlate     DevCode = 1
	DevCodeButtonPlate  DevCode = 2
	DevCodeEvoRelay     DevCode = 4
	DevCodeEvoSlave     DevCode = 8
	DevCodeContactInput DevCode = 9
	DevCodeDimmer8      DevCode = 12
	DevCodeDimmer4      DevCode = 14
	DevCodeIOModule     DevCode = 15
	DevCodeRelay4       DevCode = 16
	DevCodeUBC          DevCode = 17
	DevCodeConfigOutput DevCode = 18
	DevCodeMultisensor  DevCode = 24
	DevCodeSyncRelay4   DevCode = 144
	DevCodeUBC2         DevCode = 145
)

var devcodeProdCode = map[DevCode]string{
	DevCodeLCDPlate:     "EVO-LCD-55",
	DevCodeButtonPlate:  "EVO-SGP-xx",
	DevCodeEvoRelay:     "EVO-RP-03-02",
	DevCodeEvoSlave:     "EVS-xxx",
	DevCodeContactInput: "EVO-INT_CI_xx",
	DevCodeDimmer8:      "DIN-02-08",
	DevCodeDimmer4:      "DIN-03-04",
	DevCodeIOModule:     "DIN-INT-00-08",
	DevCodeRelay4:       "DIN-RP-05-04",
	DevCodeUBC:          "DIN-UBC-01-05",
	DevCodeConfigOutput: "DIN-DBM-00-08",
	DevCodeMultisensor:  "ECO_MULTISENSOR",
	DevCodeSyncRelay4:   "DIN-RP-05-04",
	DevCodeUBC2:         "DIN-UBC-01-05",
}

var devcodeProdName = map[DevCode]string{
	DevCodeLCDPlate:     "LCD Wall Plate",
	DevCodeButtonPlate:  "2, 5 and 10 button Wall Plates, Coolbrium & Icon plates",
	DevCodeEvoRelay:     "Evo 2-channel Relay Module",
	DevCodeEvoSlave:     "All Evo Slave Packs",
	DevCodeContactInput: "Evo 4 & 8 channel Contact Input modules",
	DevCodeDimmer8:      "eDIN 2A 8 channel dimmer module",
	DevCodeDimmer4:      "eDIN 3A 4 channel dimmer module",
	DevCodeIOModule:     "eDIN 8 channel IO module",
	DevCodeRelay4:       "eDIN 5A 4 channel relay module",
	DevCodeUBC:          "eDIN Universal Ballast Control module",
	DevCodeConfigOutput: "eDIN 8 channel Configurable Output module",
	DevCodeMultisensor:  "eDIN Mk 1 Multisensor",
	DevCodeSyncRelay4:   "eDIN 5A 4 channel mains sync relay module",
	DevCodeUBC2:         "eDIN Universal Ballast Control 2 module",
}

// ProdCode returns the manufacturer product code for the module type.
func (d DevCode) ProdCode() string {
	if code, ok := devcodeProdCode[d]; ok {
		return code
	}
	return fmt.Sprintf("UNKNOWN-%d", int(d))
}

// ProdName returns the human-readable product name for the module type.
func (d DevCode) ProdName() string {
	if name, ok := devcodeProdName[d]; ok {
		return name
	}
	return fmt.Sprintf("unknown device (devcode %d)", int(d))
}

// buttonEventNames maps the newstate field of !INPSTATE and !BTNSTATE
// frames to event names. The numeric gaps are real: codes 3 and 4 are
// not emitted by the NPU.
var buttonEventNames = map[int]string{
	0: "Release-off",
	1: "Press-on",
	2: "Hold-on",
	5: "Short-press",
	6: "Hold-off",
}

// ButtonEventName translates a raw input state code to its event name.
// Unknown codes map to "State-<n>" so an unexpected firmware value still
// produces a usable event.
func ButtonEventName(state int) string {
	if name, ok := buttonEventNames[state]; ok {
		return name
	}
	return fmt.Sprintf("State-%d", state)
}

// Module and channel status codes reported by !MODULEERR and !CHANERR.
var statusSummary = map[int]string{
	0:  "Status Ok",
	2:  "Device missing",
	4:  "Bad Device Firmware",
	5:  "No AC",
	6:  "Too Hot",
	10: "Channel Load Failure",
	20: "No DALI PSU",
	21: "No DALI Commissioning Data",
	22: "DALI Commissioning problem",
	25: "DALI Lamp failure",
	26: "DALI missing ballast",
}

var statusDesc = map[int]string{
	0:  "No Errors",
	2:  "Device or Module is not responding to MBus messages.",
	4:  "System is configured to use features that are not present in current module firmware.",
	5:  "Module uses mains AC and it does not detect any main AC power",
	6:  "The module has detected that its internal temperature is above its maximum rated operating temperature.",
	10: "The module has detected there is a problem with the external load a channel is driving",
	20: "The module has detected that there is no PSU on its DALI bus.",
	21: "The DALI universe on this module does not contain any commissioning data.",
	22: "The module has detected that the actual DALI fixtures detected do not match with the commissioning data",
	25: "A DALI fixture on this channel is indicating a lamp failure condition",
	26: "A DALI fixture that is in the commissioning data is not present (is not responding).",
}

// StatusSummary returns the short description for a module/channel status code.
func StatusSummary(code int) string {
	if s, ok := statusSummary[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown status %d", code)
}

// StatusDescription returns the long description for a module/channel status code.
func StatusDescription(code int) string {
	if s, ok := statusDesc[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown status code %d reported by module", code)
}
