package message

import (
	"errors"
	"fmt"

	"github.com/pmkol/ichika-x/pkg/engine"
)

var ErrNotSendable = errors.New("element cannot be sent")

var (
	choiceToRaw = map[Choice]engine.FingerChoice{
		Rock:     engine.Rock,
		Paper:    engine.Paper,
		Scissors: engine.Scissors,
	}
	choiceFromRaw = map[engine.FingerChoice]Choice{
		engine.Rock:     Rock,
		engine.Paper:    Paper,
		engine.Scissors: Scissors,
	}
)

// FromRaw converts received engine elements. Elements without a neutral
// form become Unknown.
func FromRaw(elems []engine.Elem) Chain {
	c := make(Chain, 0, len(elems))
	for _, e := range elems {
		c = append(c, fromRawElem(e))
	}
	return c
}

func fromRawElem(e engine.Elem) Element {
	switch e := e.(type) {
	case *engine.TextElem:
		return Text{Text: e.Content}
	case *engine.AtElem:
		return At{Target: e.Target, Display: e.Display}
	case *engine.FaceElem:
		return Face{Index: e.Index, Name: e.Name}
	case *engine.MarketFaceElem:
		return MarketFace{Name: e.Name, Raw: e}
	case *engine.DiceElem:
		return Dice{Value: e.Value}
	case *engine.FingerGuessingElem:
		if c, ok := choiceFromRaw[e.Choice]; ok {
			return FingerGuessing{Choice: c}
		}
	case *engine.ImageElem:
		if e.Flash {
			return FlashImage{URL: e.URL, Raw: e}
		}
		return Image{URL: e.URL, Raw: e}
	case *engine.ReplyElem:
		return Reply{Seq: e.ReplySeq, Sender: e.Sender, Time: e.Time, Content: FromRaw(e.Elements)}
	case *engine.LightAppElem:
		return LightApp{Content: e.Content}
	case *engine.RichMsgElem:
		return RichMessage{ServiceID: e.ServiceID, Content: e.Template1}
	}
	return Unknown{Raw: fmt.Sprintf("%+v", e)}
}

// FromAudio builds the element of a received voice clip.
func FromAudio(a *engine.Audio, url string) Audio {
	return Audio{
		MD5:      a.MD5,
		Size:     a.Size,
		FileType: a.FileType,
		URL:      url,
		Raw:      a,
	}
}

// ToRaw converts c for sending. Audio and Unknown elements, and images or
// market faces without an engine handle, are rejected.
func ToRaw(c Chain) ([]engine.Elem, error) {
	out := make([]engine.Elem, 0, len(c))
	for i, e := range c {
		r, err := toRawElem(e)
		if err != nil {
			return nil, fmt.Errorf("element #%d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func toRawElem(e Element) (engine.Elem, error) {
	switch e := e.(type) {
	case Text:
		return &engine.TextElem{Content: e.Text}, nil
	case At:
		return &engine.AtElem{Target: e.Target, Display: e.Display}, nil
	case Face:
		return &engine.FaceElem{Index: e.Index, Name: e.Name}, nil
	case MarketFace:
		if e.Raw == nil {
			return nil, fmt.Errorf("%w: market face without handle", ErrNotSendable)
		}
		return e.Raw, nil
	case Dice:
		if e.Value < 1 || e.Value > 6 {
			return nil, fmt.Errorf("%w: dice value %d", ErrInvalidElement, e.Value)
		}
		return &engine.DiceElem{Value: e.Value}, nil
	case FingerGuessing:
		c, ok := choiceToRaw[e.Choice]
		if !ok {
			return nil, fmt.Errorf("%w: finger guessing choice %q", ErrInvalidElement, e.Choice)
		}
		return &engine.FingerGuessingElem{Choice: c}, nil
	case Image:
		if e.Raw == nil {
			return nil, fmt.Errorf("%w: image without handle", ErrNotSendable)
		}
		r := *e.Raw
		r.Flash = false
		return &r, nil
	case FlashImage:
		if e.Raw == nil {
			return nil, fmt.Errorf("%w: flash image without handle", ErrNotSendable)
		}
		r := *e.Raw
		r.Flash = true
		return &r, nil
	case Reply:
		content, err := ToRaw(e.Content)
		if err != nil {
			return nil, fmt.Errorf("reply content: %w", err)
		}
		return &engine.ReplyElem{ReplySeq: e.Seq, Sender: e.Sender, Time: e.Time, Elements: content}, nil
	case LightApp:
		return &engine.LightAppElem{Content: e.Content}, nil
	case RichMessage:
		return &engine.RichMsgElem{ServiceID: e.ServiceID, Template1: e.Content}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotSendable, e.Type())
}
