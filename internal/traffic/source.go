package traffic

// Source identifies the radio protocol a target was heard on.
type Source string

const (
	SourceUnknown Source = ""
	SourceOGN     Source = "ogn"
	SourceADSL    Source = "adsl"
	SourceLDR     Source = "ldr"
	SourceFANET   Source = "fanet"
)
