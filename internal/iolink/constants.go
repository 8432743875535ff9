package iolink

// M-Sequence Typen (IO-Link Spezifikation, Annex A)
const (
	MTYPE0  uint8 = 0
	MTYPE1X uint8 = 1
	MTYPE2X uint8 = 2
)

// PDValidBit markiert gültige Prozessdaten im Status-Byte
const PDValidBit uint8 = 0x40

// Master Commands
const (
	MCIdle       uint8 = 0xF1 // Device wartet
	MCPDRead     uint8 = 0x80
	MCPDWrite    uint8 = 0x00
	MCPageRead   uint8 = 0xA0
	MCPageWrite  uint8 = 0x20
	MCODWrite    uint8 = 0x70
	MCODRead     uint8 = 0xF0
	MCODFlowCtrl uint8 = 0x60 // FlowCtrl-Basis, erster gültiger MC ist 0x61

	MCDevFallback   uint8 = 0x5A
	MCMasterIdent   uint8 = 0x95
	MCDevIdent      uint8 = 0x96
	MCDevStartup    uint8 = 0x97
	MCPDOutValid    uint8 = 0x98
	MCDevOperate    uint8 = 0x99
	MCDevPreoperate uint8 = 0x9A
)

// Direct Parameter Page Adressen
const (
	PageMasterCommand   uint8 = 0x00
	PageMasterCycleTime uint8 = 0x01
	PageMinCycleTime    uint8 = 0x02
	PageMSeqCap         uint8 = 0x03
	PageRevisionID      uint8 = 0x04
	PagePDIn            uint8 = 0x05
	PagePDOut           uint8 = 0x06
	PageVendorID1       uint8 = 0x07
	PageVendorID2       uint8 = 0x08
	PageDeviceID1       uint8 = 0x09
	PageDeviceID2       uint8 = 0x0A
	PageDeviceID3       uint8 = 0x0B
	PageFunctionID1     uint8 = 0x0C
	PageFunctionID2     uint8 = 0x0D
	PageSystemCmd       uint8 = 0x0F
)

// ISDU iService Opcodes (oberes Nibble des ersten Frame-Bytes)
const (
	ISDUWriteReq8    uint8 = 0x1
	ISDUWriteReq8Sub uint8 = 0x2
	ISDUWriteReq16   uint8 = 0x3
	ISDUReadReq8     uint8 = 0x9
	ISDUReadReq8Sub  uint8 = 0xA
	ISDUReadReq16    uint8 = 0xB
)
