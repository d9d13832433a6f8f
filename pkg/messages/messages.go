// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package messages defines the typed payloads broadcast by amateur-radio
// logging applications. Each payload is identified on the wire by the
// lowercase name of its XML root element.
package messages

// Root tags as they appear on the wire, normalized to lowercase.
const (
	TagAppInfo        = "appinfo"
	TagContactInfo    = "contactinfo"
	TagContactReplace = "contactreplace"
	TagContactDelete  = "contactdelete"
	TagLookupInfo     = "lookupinfo"
	TagRadioInfo      = "radioinfo"
	TagSpot           = "spot"
)

// Message is implemented by every decoded payload type.
type Message interface {
	// Tag returns the lowercase root tag identifying the payload shape.
	Tag() string
}

// AppInfo announces the logging application and the active database/contest.
type AppInfo struct {
	App         string `xml:"app"`
	DBName      string `xml:"dbname"`
	Contest     string `xml:"contestname"`
	StationName string `xml:"StationName"`
}

func (m *AppInfo) Tag() string { return TagAppInfo }

// ContactInfo describes a single logged contact (QSO).
type ContactInfo struct {
	App         string `xml:"app"`
	Contest     string `xml:"contestname"`
	Timestamp   string `xml:"timestamp"`
	MyCall      string `xml:"mycall"`
	Call        string `xml:"call"`
	Band        string `xml:"band"`
	Mode        string `xml:"mode"`
	RxFreq      int64  `xml:"rxfreq"`
	TxFreq      int64  `xml:"txfreq"`
	Operator    string `xml:"operator"`
	Points      int    `xml:"points"`
	StationName string `xml:"StationName"`
	ID          string `xml:"ID"`
}

func (m *ContactInfo) Tag() string { return TagContactInfo }

// ContactReplace carries a corrected version of a previously logged contact.
// Its wire shape is identical to ContactInfo.
type ContactReplace struct {
	ContactInfo
}

func (m *ContactReplace) Tag() string { return TagContactReplace }

// ContactDelete requests removal of a previously logged contact.
type ContactDelete struct {
	App         string `xml:"app"`
	Timestamp   string `xml:"timestamp"`
	Call        string `xml:"call"`
	StationName string `xml:"StationName"`
	ID          string `xml:"ID"`
}

func (m *ContactDelete) Tag() string { return TagContactDelete }

// LookupInfo is a callsign lookup notification; same wire shape as
// ContactInfo.
type LookupInfo struct {
	ContactInfo
}

func (m *LookupInfo) Tag() string { return TagLookupInfo }

// RadioInfo reports the state of an attached radio.
type RadioInfo struct {
	App          string `xml:"app"`
	StationName  string `xml:"StationName"`
	RadioNr      int    `xml:"RadioNr"`
	Freq         int64  `xml:"Freq"`
	TxFreq       int64  `xml:"TXFreq"`
	Mode         string `xml:"Mode"`
	OpCall       string `xml:"OpCall"`
	IsRunning    bool   `xml:"IsRunning"`
	FocusRadioNr int    `xml:"FocusRadioNr"`
}

func (m *RadioInfo) Tag() string { return TagRadioInfo }

// Spot announces a DX cluster spot.
type Spot struct {
	App         string `xml:"app"`
	DXCall      string `xml:"dxcall"`
	Frequency   int64  `xml:"frequency"`
	SpotterCall string `xml:"spottercall"`
	Mode        string `xml:"mode"`
	Comment     string `xml:"comment"`
	Action      string `xml:"action"`
	Timestamp   string `xml:"timestamp"`
}

func (m *Spot) Tag() string { return TagSpot }
