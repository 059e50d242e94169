package gate

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-botfactory/core"
)

const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

const (
	InteractionPing               = 1
	InteractionApplicationCommand = 2
)

const (
	ResponsePong                     = 1
	ResponseChannelMessageWithSource = 4
)

// AcknowledgeContent is the interim reply sent while the processor works.
const AcknowledgeContent = "Working on it..."

type interactionUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
}

type interaction struct {
	ID        string `json:"id"`
	Type      int    `json:"type"`
	ChannelID string `json:"channel_id"`
	Member    *struct {
		User *interactionUser `json:"user"`
	} `json:"member"`
	User *interactionUser `json:"user"`
	Data *struct {
		Name    string                    `json:"name"`
		Options []core.CommandEventOption `json:"options"`
	} `json:"data"`
}

type interactionResponse struct {
	Type int                      `json:"type"`
	Data *interactionResponseData `json:"data,omitempty"`
}

type interactionResponseData struct {
	Content string `json:"content"`
}

// Verify checks the Ed25519 signature Discord puts on every interaction. The
// signed message is the timestamp header followed by the raw body.
func Verify(publicKey string, headers http.Header, body []byte) error {
	signature := strings.TrimSpace(headers.Get(HeaderSignature))
	timestamp := strings.TrimSpace(headers.Get(HeaderTimestamp))
	if signature == "" || timestamp == "" {
		return fmt.Errorf("missing %s or %s header", HeaderSignature, HeaderTimestamp)
	}
	key, err := hex.DecodeString(strings.TrimSpace(publicKey))
	if err != nil || len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("bot public key is not a hex encoded ed25519 key")
	}
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature is not a hex encoded ed25519 signature")
	}
	message := make([]byte, 0, len(timestamp)+len(body))
	message = append(message, timestamp...)
	message = append(message, body...)
	if !ed25519.Verify(ed25519.PublicKey(key), message, sig) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Sign produces the headers a caller holding privateKey would send. Used by
// the CLI smoke path and tests.
func Sign(privateKey ed25519.PrivateKey, timestamp string, body []byte) http.Header {
	message := append([]byte(timestamp), body...)
	headers := http.Header{}
	headers.Set(HeaderSignature, hex.EncodeToString(ed25519.Sign(privateKey, message)))
	headers.Set(HeaderTimestamp, timestamp)
	return headers
}

func parseInteraction(body []byte) (interaction, error) {
	var in interaction
	if err := json.Unmarshal(body, &in); err != nil {
		return interaction{}, fmt.Errorf("payload is not valid JSON")
	}
	if in.Type == 0 {
		return interaction{}, fmt.Errorf("interaction type is required")
	}
	return in, nil
}

// commandEvent extracts the attributes the processor needs from an
// application command interaction.
func commandEvent(in interaction, raw []byte) (core.CommandEvent, error) {
	if in.Data == nil || strings.TrimSpace(in.Data.Name) == "" {
		return core.CommandEvent{}, fmt.Errorf("application command has no name")
	}
	user := in.User
	if in.Member != nil && in.Member.User != nil {
		user = in.Member.User
	}
	if user == nil {
		return core.CommandEvent{}, fmt.Errorf("application command has no issuing user")
	}
	options := in.Data.Options
	if options == nil {
		options = []core.CommandEventOption{}
	}
	return core.CommandEvent{
		Command:         in.Data.Name,
		Options:         options,
		CommandIssuer:   IssuerName(user.Username, user.Discriminator),
		CommandIssuerID: user.ID,
		ChannelID:       in.ChannelID,
		DiscordEvent:    json.RawMessage(append([]byte(nil), raw...)),
	}, nil
}

// IssuerName renders username#discriminator, or the bare username for
// accounts migrated off discriminators.
func IssuerName(username string, discriminator string) string {
	discriminator = strings.TrimSpace(discriminator)
	if discriminator == "" || discriminator == "0" {
		return username
	}
	return username + "#" + discriminator
}

func pongBody() []byte {
	body, _ := json.Marshal(interactionResponse{Type: ResponsePong})
	return body
}

func acknowledgeBody() []byte {
	body, _ := json.Marshal(interactionResponse{
		Type: ResponseChannelMessageWithSource,
		Data: &interactionResponseData{Content: AcknowledgeContent},
	})
	return body
}
