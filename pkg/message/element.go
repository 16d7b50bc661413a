// Package message defines the language neutral message elements and their
// conversion to and from the wire dict form and the engine's elements.
//
// Type tags are a stable external format: consumers pattern match on them.
package message

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pmkol/ichika-x/pkg/engine"
)

// Element tags.
const (
	TypeText           = "Text"
	TypeAt             = "At"
	TypeAtAll          = "AtAll"
	TypeFace           = "Face"
	TypeMarketFace     = "MarketFace"
	TypeDice           = "Dice"
	TypeFingerGuessing = "FingerGuessing"
	TypeImage          = "Image"
	TypeFlashImage     = "FlashImage"
	TypeReply          = "Reply"
	TypeLightApp       = "LightApp"
	TypeRichMessage    = "RichMessage"
	TypeAudio          = "Audio"
	TypeUnknown        = "Unknown"
)

// Element is one item of a Chain. The set of implementations is closed.
type Element interface {
	// Type returns the element tag.
	Type() string
	fmt.Stringer
	element()
}

type Text struct {
	Text string `mapstructure:"text"`
}

// At mentions Target. A zero Target mentions everyone and is tagged AtAll.
type At struct {
	Target  int64  `mapstructure:"target"`
	Display string `mapstructure:"display"`
}

// AtAll returns the element mentioning everyone.
func AtAll() At {
	return At{}
}

type Face struct {
	Index int32  `mapstructure:"index"`
	Name  string `mapstructure:"name"`
}

// MarketFace is a store sticker. Raw is the engine handle needed to send it
// again.
type MarketFace struct {
	Name string                 `mapstructure:"name"`
	Raw  *engine.MarketFaceElem `mapstructure:"raw"`
}

type Dice struct {
	Value int32 `mapstructure:"value"`
}

type Choice string

const (
	Rock     Choice = "Rock"
	Paper    Choice = "Paper"
	Scissors Choice = "Scissors"
)

type FingerGuessing struct {
	Choice Choice `mapstructure:"choice"`
}

// Image carries the download URL and the engine handle used to resend it.
type Image struct {
	URL string            `mapstructure:"url"`
	Raw *engine.ImageElem `mapstructure:"raw"`
}

// AsFlash returns the same image sent as a flash image.
func (i Image) AsFlash() FlashImage {
	return FlashImage(i)
}

// FlashImage is an Image that disappears once viewed.
type FlashImage struct {
	URL string            `mapstructure:"url"`
	Raw *engine.ImageElem `mapstructure:"raw"`
}

// Reply quotes an earlier message.
type Reply struct {
	Seq     int32 `mapstructure:"seq"`
	Sender  int64 `mapstructure:"sender"`
	Time    int32 `mapstructure:"time"`
	Content Chain `mapstructure:"-"`
}

type LightApp struct {
	Content string `mapstructure:"content"`
}

type RichMessage struct {
	ServiceID int32  `mapstructure:"service_id"`
	Content   string `mapstructure:"content"`
}

// Audio is a voice clip. It can only be received.
type Audio struct {
	MD5      []byte        `mapstructure:"md5"`
	Size     uint32        `mapstructure:"size"`
	FileType int32         `mapstructure:"file_type"`
	URL      string        `mapstructure:"url"`
	Raw      *engine.Audio `mapstructure:"raw"`
}

// Unknown is an engine element with no neutral form. Raw is its debug
// representation.
type Unknown struct {
	Raw string `mapstructure:"raw"`
}

func (Text) Type() string { return TypeText }

func (a At) Type() string {
	if a.Target == 0 {
		return TypeAtAll
	}
	return TypeAt
}

func (Face) Type() string           { return TypeFace }
func (MarketFace) Type() string     { return TypeMarketFace }
func (Dice) Type() string           { return TypeDice }
func (FingerGuessing) Type() string { return TypeFingerGuessing }
func (Image) Type() string          { return TypeImage }
func (FlashImage) Type() string     { return TypeFlashImage }
func (Reply) Type() string          { return TypeReply }
func (LightApp) Type() string       { return TypeLightApp }
func (RichMessage) Type() string    { return TypeRichMessage }
func (Audio) Type() string          { return TypeAudio }
func (Unknown) Type() string        { return TypeUnknown }

func (Text) element()           {}
func (At) element()             {}
func (Face) element()           {}
func (MarketFace) element()     {}
func (Dice) element()           {}
func (FingerGuessing) element() {}
func (Image) element()          {}
func (FlashImage) element()     {}
func (Reply) element()          {}
func (LightApp) element()       {}
func (RichMessage) element()    {}
func (Audio) element()          {}
func (Unknown) element()        {}

func (t Text) String() string { return t.Text }

func (a At) String() string {
	if a.Target == 0 {
		return "[AtAll]"
	}
	if a.Display != "" {
		return a.Display
	}
	return "@" + strconv.FormatInt(a.Target, 10)
}

func (f Face) String() string           { return "[Face:" + f.Name + "]" }
func (m MarketFace) String() string     { return "[MarketFace:" + m.Name + "]" }
func (d Dice) String() string           { return "[Dice:" + strconv.Itoa(int(d.Value)) + "]" }
func (f FingerGuessing) String() string { return "[FingerGuessing:" + string(f.Choice) + "]" }
func (Image) String() string            { return "[Image]" }
func (FlashImage) String() string       { return "[FlashImage]" }
func (r Reply) String() string          { return "[Reply:" + strconv.Itoa(int(r.Seq)) + "]" }
func (LightApp) String() string         { return "[LightApp]" }
func (RichMessage) String() string      { return "[RichMessage]" }
func (Audio) String() string            { return "[Audio]" }
func (Unknown) String() string          { return "[Unknown]" }

// Chain is an ordered message.
type Chain []Element

// String renders a plain text preview of the chain.
func (c Chain) String() string {
	var sb strings.Builder
	for _, e := range c {
		sb.WriteString(e.String())
	}
	return sb.String()
}

// MarshalJSON writes the wire dict form.
func (c Chain) MarshalJSON() ([]byte, error) {
	return json.Marshal(Serialize(c))
}

func (c *Chain) UnmarshalJSON(b []byte) error {
	var raw []map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	dc, err := Deserialize(raw)
	if err != nil {
		return err
	}
	*c = dc
	return nil
}

// MarshalJSON writes the wire dict form of the clip.
func (a Audio) MarshalJSON() ([]byte, error) {
	return json.Marshal(serializeElem(a))
}

func (a Audio) md5Hex() string {
	return hex.EncodeToString(a.MD5)
}
