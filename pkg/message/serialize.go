package message

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

var (
	ErrMissingType    = errors.New("element has no type")
	ErrUnknownType    = errors.New("unknown element type")
	ErrInvalidElement = errors.New("invalid element")
)

// Serialize converts c into the wire dict form. Every dict carries its tag
// under "type".
func Serialize(c Chain) []map[string]any {
	out := make([]map[string]any, 0, len(c))
	for _, e := range c {
		out = append(out, serializeElem(e))
	}
	return out
}

func serializeElem(e Element) map[string]any {
	m := map[string]any{"type": e.Type()}
	switch e := e.(type) {
	case Text:
		m["text"] = e.Text
	case At:
		if e.Target != 0 {
			m["target"] = e.Target
			m["display"] = e.Display
		}
	case Face:
		m["index"] = e.Index
		m["name"] = e.Name
	case MarketFace:
		m["name"] = e.Name
		m["raw"] = e.Raw
	case Dice:
		m["value"] = e.Value
	case FingerGuessing:
		m["choice"] = string(e.Choice)
	case Image:
		m["url"] = e.URL
		m["raw"] = e.Raw
	case FlashImage:
		m["url"] = e.URL
		m["raw"] = e.Raw
	case Reply:
		m["seq"] = e.Seq
		m["sender"] = e.Sender
		m["time"] = e.Time
		m["content"] = Serialize(e.Content)
	case LightApp:
		m["content"] = e.Content
	case RichMessage:
		m["service_id"] = e.ServiceID
		m["content"] = e.Content
	case Audio:
		m["md5"] = e.md5Hex()
		m["size"] = e.Size
		m["file_type"] = e.FileType
		m["url"] = e.URL
		m["raw"] = e.Raw
	case Unknown:
		m["raw"] = e.Raw
	}
	return m
}

// Deserialize parses the wire dict form. Numeric fields accept any numeric
// representation, so dicts decoded from JSON are accepted as well.
func Deserialize(ds []map[string]any) (Chain, error) {
	c := make(Chain, 0, len(ds))
	for i, d := range ds {
		e, err := deserializeElem(d)
		if err != nil {
			return nil, fmt.Errorf("element #%d: %w", i, err)
		}
		c = append(c, e)
	}
	return c, nil
}

var bytesType = reflect.TypeOf([]byte(nil))

// base64Bytes restores []byte fields of raw engine elements that went
// through encoding/json, which writes them as base64 strings.
func base64Bytes(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != bytesType {
		return data, nil
	}
	b, err := base64.StdEncoding.DecodeString(data.(string))
	if err != nil {
		return nil, fmt.Errorf("%w: bytes field: %v", ErrInvalidElement, err)
	}
	return b, nil
}

func decode(d map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       base64Bytes,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(d)
}

func decodeAs[T Element](d map[string]any) (Element, error) {
	var e T
	if err := decode(d, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func deserializeElem(d map[string]any) (Element, error) {
	t, _ := d["type"].(string)
	if t == "" {
		return nil, ErrMissingType
	}

	switch t {
	case TypeText:
		return decodeAs[Text](d)
	case TypeAtAll:
		return AtAll(), nil
	case TypeAt:
		if _, ok := d["target"]; !ok {
			return nil, fmt.Errorf("%w: At without target", ErrInvalidElement)
		}
		return decodeAs[At](d)
	case TypeFace:
		return decodeAs[Face](d)
	case TypeMarketFace:
		return decodeAs[MarketFace](d)
	case TypeDice:
		var e Dice
		if err := decode(d, &e); err != nil {
			return nil, err
		}
		if e.Value < 1 || e.Value > 6 {
			return nil, fmt.Errorf("%w: dice value %d", ErrInvalidElement, e.Value)
		}
		return e, nil
	case TypeFingerGuessing:
		var e FingerGuessing
		if err := decode(d, &e); err != nil {
			return nil, err
		}
		switch e.Choice {
		case Rock, Paper, Scissors:
			return e, nil
		}
		return nil, fmt.Errorf("%w: finger guessing choice %q", ErrInvalidElement, e.Choice)
	case TypeImage:
		return decodeAs[Image](d)
	case TypeFlashImage:
		return decodeAs[FlashImage](d)
	case TypeReply:
		var e Reply
		if err := decode(d, &e); err != nil {
			return nil, err
		}
		content, err := contentDicts(d["content"])
		if err != nil {
			return nil, err
		}
		if e.Content, err = Deserialize(content); err != nil {
			return nil, fmt.Errorf("reply content: %w", err)
		}
		return e, nil
	case TypeLightApp:
		return decodeAs[LightApp](d)
	case TypeRichMessage:
		return decodeAs[RichMessage](d)
	case TypeAudio:
		var e Audio
		md5, _ := d["md5"].(string)
		rest := make(map[string]any, len(d))
		for k, v := range d {
			if k != "md5" {
				rest[k] = v
			}
		}
		if err := decode(rest, &e); err != nil {
			return nil, err
		}
		b, err := hex.DecodeString(md5)
		if err != nil {
			return nil, fmt.Errorf("%w: audio md5: %v", ErrInvalidElement, err)
		}
		e.MD5 = b
		return e, nil
	case TypeUnknown:
		return decodeAs[Unknown](d)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

func contentDicts(v any) ([]map[string]any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, x := range v {
			m, ok := x.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: reply content item is %T", ErrInvalidElement, x)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: reply content is %T", ErrInvalidElement, v)
}
