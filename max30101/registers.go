package max30101

import "fmt"

// DefaultAddress is the 7-bit bus address (0xAE/0xAF on the wire).
const DefaultAddress = 0x57

// PartID is the content of RegPartID for the MAX3010x family.
const PartID = 0x15

// Register is a device register address.
type Register byte

// Register map. Configuration registers are written once per profile;
// RegFIFOData is the auto-incrementing data port.
const (
	RegIntrStatus1  Register = 0x00
	RegIntrStatus2  Register = 0x01
	RegIntrEnable1  Register = 0x02
	RegIntrEnable2  Register = 0x03
	RegFIFOWritePtr Register = 0x04
	RegOverflowCnt  Register = 0x05
	RegFIFOReadPtr  Register = 0x06
	RegFIFOData     Register = 0x07
	RegFIFOConfig   Register = 0x08
	RegModeConfig   Register = 0x09
	RegSpO2Config   Register = 0x0A
	RegLED1Amp      Register = 0x0C
	RegLED2Amp      Register = 0x0D
	RegLED3Amp      Register = 0x0E
	RegLED4Amp      Register = 0x0F
	RegMultiLED1    Register = 0x11
	RegMultiLED2    Register = 0x12
	RegDieTempInt   Register = 0x1F
	RegDieTempFrac  Register = 0x20
	RegDieTempCfg   Register = 0x21
	RegRevID        Register = 0xFE
	RegPartID       Register = 0xFF
)

var registerNames = map[Register]string{
	RegIntrStatus1:  "INTR_STATUS1",
	RegIntrStatus2:  "INTR_STATUS2",
	RegIntrEnable1:  "INTR_ENABLE1",
	RegIntrEnable2:  "INTR_ENABLE2",
	RegFIFOWritePtr: "FIFO_WR_PTR",
	RegOverflowCnt:  "OVF_COUNTER",
	RegFIFOReadPtr:  "FIFO_RD_PTR",
	RegFIFOData:     "FIFO_DATA",
	RegFIFOConfig:   "FIFO_CONFIG",
	RegModeConfig:   "MODE_CONFIG",
	RegSpO2Config:   "SPO2_CONFIG",
	RegLED1Amp:      "LED1_PA",
	RegLED2Amp:      "LED2_PA",
	RegLED3Amp:      "LED3_PA",
	RegLED4Amp:      "LED4_PA",
	RegMultiLED1:    "MULTI_LED_CTRL1",
	RegMultiLED2:    "MULTI_LED_CTRL2",
	RegDieTempInt:   "TEMP_INTR",
	RegDieTempFrac:  "TEMP_FRAC",
	RegDieTempCfg:   "TEMP_CONFIG",
	RegRevID:        "REV_ID",
	RegPartID:       "PART_ID",
}

func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return name
	}
	return fmt.Sprintf("REG_%#02x", byte(r))
}

// FIFO_CONFIG fields
const (
	fifoSampleAvg8   byte = 0x3 << 5
	fifoRolloverEn   byte = 1 << 4
	fifoAlmostFull17 byte = 0x0F // interrupt with 17 unread samples

	fifoAvg8Rollover = fifoSampleAvg8 | fifoRolloverEn | fifoAlmostFull17

	// SamplesAveraged is the number of ADC conversions folded into one FIFO sample.
	SamplesAveraged = 8
)

// MODE_CONFIG
const (
	ModeHeartRate byte = 0x02
	ModeSpO2      byte = 0x03
	ModeMultiLED  byte = 0x07
)

// SPO2_CONFIG fields
const (
	spo2ADCRange2048  byte = 0x0 << 5
	spo2SampleRate50  byte = 0x0 << 2
	spo2SampleRate100 byte = 0x1 << 2
	spo2PulseWidth69  byte = 0x0 // 16-bit resolution

	spo2Range2048SR50  = spo2ADCRange2048 | spo2SampleRate50 | spo2PulseWidth69
	spo2Range2048SR100 = spo2ADCRange2048 | spo2SampleRate100 | spo2PulseWidth69
)

const (
	// slot1 = LED1 (red), slot2 = LED2 (IR)
	multiLEDSlots12 byte = 0x21
	// slot3 = LED3 (green), slot4 disabled
	multiLEDSlots34 byte = 0x03

	tempEnable byte = 0x01

	// INTR_STATUS2
	dieTempReady byte = 1 << 1
)

// FIFO geometry
const (
	FIFODepth   = 32
	pointerMask = 0x1F
)
