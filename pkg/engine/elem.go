package engine

// Elem is a raw message element. Types not declared here are carried as
// unknown elements.
type Elem any

type TextElem struct {
	Content string
}

// AtElem with a zero Target mentions everyone.
type AtElem struct {
	Target  int64
	Display string
}

type FaceElem struct {
	Index int32
	Name  string
}

type MarketFaceElem struct {
	Name       string
	FaceID     []byte
	TabID      int32
	ItemType   int32
	SubType    int32
	MediaType  int32
	EncryptKey []byte
	MagicValue string
}

type DiceElem struct {
	Value int32
}

type FingerChoice uint8

const (
	Rock FingerChoice = iota
	Scissors
	Paper
)

type FingerGuessingElem struct {
	Choice FingerChoice
}

type ImageTarget uint8

const (
	ImageFriend ImageTarget = iota
	ImageGroup
)

type ImageElem struct {
	Target    ImageTarget
	FileID    int64
	FilePath  string
	MD5       []byte
	Size      uint32
	Width     uint32
	Height    uint32
	ImageType int32
	URL       string
	Flash     bool
}

type ReplyElem struct {
	ReplySeq int32
	Sender   int64
	Time     int32
	Elements []Elem
}

type LightAppElem struct {
	Content string
}

type RichMsgElem struct {
	ServiceID int32
	Template1 string
}

// Audio describes a voice clip. It is delivered through the audio message
// events rather than as a chain element.
type Audio struct {
	FileName string
	MD5      []byte
	Size     uint32
	FileType int32
}
