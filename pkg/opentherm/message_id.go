package opentherm

import (
	"fmt"
	"strconv"
	"strings"
)

// DataID identifies the meaning of a frame's 16-bit data value.
type DataID uint8

const (
	Status                     DataID = 0
	TSet                       DataID = 1
	MConfigMMemberIDcode       DataID = 2
	SConfigSMemberIDcode       DataID = 3
	Command                    DataID = 4
	ASFflags                   DataID = 5
	RBPflags                   DataID = 6
	CoolingControl             DataID = 7
	TsetCH2                    DataID = 8
	TrOverride                 DataID = 9
	TSP                        DataID = 10
	TSPindexTSPvalue           DataID = 11
	FHBsize                    DataID = 12
	FHBindexFHBvalue           DataID = 13
	MaxRelModLevelSetting      DataID = 14
	MaxCapacityMinModLevel     DataID = 15
	TrSet                      DataID = 16
	RelModLevel                DataID = 17
	CHPressure                 DataID = 18
	DHWFlowRate                DataID = 19
	DayTime                    DataID = 20
	Date                       DataID = 21
	Year                       DataID = 22
	TrSetCH2                   DataID = 23
	Tr                         DataID = 24
	Tboiler                    DataID = 25
	Tdhw                       DataID = 26
	Toutside                   DataID = 27
	Tret                       DataID = 28
	Tstorage                   DataID = 29
	Tcollector                 DataID = 30
	TflowCH2                   DataID = 31
	Tdhw2                      DataID = 32
	Texhaust                   DataID = 33
	TdhwSetUBTdhwSetLB         DataID = 48
	MaxTSetUBMaxTSetLB         DataID = 49
	HcratioUBHcratioLB         DataID = 50
	TdhwSet                    DataID = 56
	MaxTSet                    DataID = 57
	Hcratio                    DataID = 58
	RemoteOverrideFunction     DataID = 100
	OEMDiagnosticCode          DataID = 115
	BurnerStarts               DataID = 116
	CHPumpStarts               DataID = 117
	DHWPumpValveStarts         DataID = 118
	DHWBurnerStarts            DataID = 119
	BurnerOperationHours       DataID = 120
	CHPumpOperationHours       DataID = 121
	DHWPumpValveOperationHours DataID = 122
	DHWBurnerOperationHours    DataID = 123
	OpenThermVersionMaster     DataID = 124
	OpenThermVersionSlave      DataID = 125
	MasterVersion              DataID = 126
	SlaveVersion               DataID = 127
)

const unknownPrefix = "Unknown"

var dataIDNames = map[DataID]string{
	Status:                     "Status",
	TSet:                       "TSet",
	MConfigMMemberIDcode:       "MConfigMMemberIDcode",
	SConfigSMemberIDcode:       "SConfigSMemberIDcode",
	Command:                    "Command",
	ASFflags:                   "ASFflags",
	RBPflags:                   "RBPflags",
	CoolingControl:             "CoolingControl",
	TsetCH2:                    "TsetCH2",
	TrOverride:                 "TrOverride",
	TSP:                        "TSP",
	TSPindexTSPvalue:           "TSPindexTSPvalue",
	FHBsize:                    "FHBsize",
	FHBindexFHBvalue:           "FHBindexFHBvalue",
	MaxRelModLevelSetting:      "MaxRelModLevelSetting",
	MaxCapacityMinModLevel:     "MaxCapacityMinModLevel",
	TrSet:                      "TrSet",
	RelModLevel:                "RelModLevel",
	CHPressure:                 "CHPressure",
	DHWFlowRate:                "DHWFlowRate",
	DayTime:                    "DayTime",
	Date:                       "Date",
	Year:                       "Year",
	TrSetCH2:                   "TrSetCH2",
	Tr:                         "Tr",
	Tboiler:                    "Tboiler",
	Tdhw:                       "Tdhw",
	Toutside:                   "Toutside",
	Tret:                       "Tret",
	Tstorage:                   "Tstorage",
	Tcollector:                 "Tcollector",
	TflowCH2:                   "TflowCH2",
	Tdhw2:                      "Tdhw2",
	Texhaust:                   "Texhaust",
	TdhwSetUBTdhwSetLB:         "TdhwSetUBTdhwSetLB",
	MaxTSetUBMaxTSetLB:         "MaxTSetUBMaxTSetLB",
	HcratioUBHcratioLB:         "HcratioUBHcratioLB",
	TdhwSet:                    "TdhwSet",
	MaxTSet:                    "MaxTSet",
	Hcratio:                    "Hcratio",
	RemoteOverrideFunction:     "RemoteOverrideFunction",
	OEMDiagnosticCode:          "OEMDiagnosticCode",
	BurnerStarts:               "BurnerStarts",
	CHPumpStarts:               "CHPumpStarts",
	DHWPumpValveStarts:         "DHWPumpValveStarts",
	DHWBurnerStarts:            "DHWBurnerStarts",
	BurnerOperationHours:       "BurnerOperationHours",
	CHPumpOperationHours:       "CHPumpOperationHours",
	DHWPumpValveOperationHours: "DHWPumpValveOperationHours",
	DHWBurnerOperationHours:    "DHWBurnerOperationHours",
	OpenThermVersionMaster:     "OpenThermVersionMaster",
	OpenThermVersionSlave:      "OpenThermVersionSlave",
	MasterVersion:              "MasterVersion",
	SlaveVersion:               "SlaveVersion",
}

var dataIDsByName = func() map[string]DataID {
	m := make(map[string]DataID, len(dataIDNames))
	for id, name := range dataIDNames {
		m[name] = id
	}
	return m
}()

func (id DataID) String() string {
	if name, ok := dataIDNames[id]; ok {
		return name
	}
	return fmt.Sprintf("%s%d", unknownPrefix, uint8(id))
}

// LookupDataID resolves a message name. Ids without a well-known name are
// addressed as "Unknown<n>".
func LookupDataID(name string) (DataID, bool) {
	if id, ok := dataIDsByName[name]; ok {
		return id, true
	}
	if rest, found := strings.CutPrefix(name, unknownPrefix); found {
		n, err := strconv.ParseUint(rest, 10, 8)
		if err != nil {
			return 0, false
		}
		return DataID(n), true
	}
	return 0, false
}
