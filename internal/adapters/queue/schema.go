package queue

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

//go:embed message.schema.json
var messageSchemaJSON []byte

var (
	messageSchemaOnce sync.Once
	messageSchema     *santhosh.Schema
	messageSchemaErr  error
)

// ErrInvalidMessage is returned for transport payloads that do not match the
// timeline message schema.
var ErrInvalidMessage = errors.New("invalid timeline message")

func compiledMessageSchema() (*santhosh.Schema, error) {
	messageSchemaOnce.Do(func() {
		compiler := santhosh.NewCompiler()
		compiler.Draft = santhosh.Draft7
		compiler.AssertFormat = true
		if err := compiler.AddResource("message.schema.json", bytes.NewReader(messageSchemaJSON)); err != nil {
			messageSchemaErr = err
			return
		}
		messageSchema, messageSchemaErr = compiler.Compile("message.schema.json")
	})
	return messageSchema, messageSchemaErr
}

// DecodeMessage validates raw against the message schema and decodes it with
// exact numbers in the attributes.
func DecodeMessage(raw []byte) (domain.TimelineMessage, error) {
	sch, err := compiledMessageSchema()
	if err != nil {
		return domain.TimelineMessage{}, fmt.Errorf("compile message schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.TimelineMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := sch.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return domain.TimelineMessage{}, fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(leafErrors(ve), "; "))
		}
		return domain.TimelineMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var msg domain.TimelineMessage
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&msg); err != nil {
		return domain.TimelineMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

func EncodeMessage(msg domain.TimelineMessage) ([]byte, error) {
	if msg.Attributes == nil {
		msg.Attributes = map[string]any{}
	}
	return json.Marshal(msg)
}

func leafErrors(ve *santhosh.ValidationError) []string {
	if len(ve.Causes) == 0 {
		return []string{ve.Error()}
	}
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, leafErrors(cause)...)
	}
	return msgs
}
