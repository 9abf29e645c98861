package link

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"strings"
	"sync"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/tiiuae/flightsession/internal/types"
)

// MQTT parameters
const (
	qos      = 1
	retain   = false
	username = "unused"

	publishTimeout = 10 * time.Second
)

// Operator command that is handled by the link itself
const commandInitializeTrust = "initialize-trust"

type MQTTOptions struct {
	Broker         string
	DeviceID       string
	ClientID       string
	PrivateKeyPath string
	// RS256 or ES256
	Algorithm       string
	Audience        string
	ConnectTimeout  time.Duration
	ConnectAttempts int
}

var ErrNotConnected = errors.New("mqtt client not connected")

type trustEvent struct {
	PublicSSHKey string `json:"public_ssh_key"`
}

type eventSignature struct {
	Format string `json:"format"`
	Blob   []byte `json:"blob"`
}

// sessionEvent is a bus message with its payload serialized to a string. Once
// trust is initialized the string is signed with the announced key.
type sessionEvent struct {
	types.Message
	Signature *eventSignature `json:"signature,omitempty"`
}

type mqttClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// MQTT carries commands to the aircraft gateway and session events to the
// backend over an MQTT broker. It is a bus handler: inbound frames are posted
// to the bus and outbound session events are published.
type MQTT struct {
	client   mqttClient
	deviceID string

	mu    sync.Mutex
	sshID ssh.Signer
}

func NewMQTT(client mqttClient, deviceID string) *MQTT {
	return &MQTT{client: client, deviceID: deviceID}
}

// DialMQTT authenticates with a JWT signed by the device key and connects,
// retrying connection timeouts up to ConnectAttempts times.
func DialMQTT(o MQTTOptions) (mqtt.Client, error) {
	log.Printf("MQTT: broker %v, client %v", o.Broker, o.ClientID)

	keyData, err := ioutil.ReadFile(o.PrivateKeyPath)
	if err != nil {
		return nil, errors.Wrap(err, "read private key")
	}

	var key interface{}
	switch o.Algorithm {
	case "RS256":
		key, err = jwt.ParseRSAPrivateKeyFromPEM(keyData)
	case "ES256":
		key, err = jwt.ParseECPrivateKeyFromPEM(keyData)
	default:
		return nil, errors.Errorf("unknown algorithm: %s", o.Algorithm)
	}
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}

	// generate JWT as the MQTT password
	t := time.Now()
	token := jwt.NewWithClaims(jwt.GetSigningMethod(o.Algorithm), &jwt.StandardClaims{
		IssuedAt:  t.Unix(),
		ExpiresAt: t.Add(24 * time.Hour).Unix(),
		Audience:  o.Audience,
	})
	pass, err := token.SignedString(key)
	if err != nil {
		return nil, errors.Wrap(err, "sign token")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(username).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetPassword(pass).
		SetAutoReconnect(true).
		SetProtocolVersion(4) // MQTT 3.1.1

	client := mqtt.NewClient(opts)

	attempts := o.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		log.Printf("MQTT: connecting (%d/%d)...", i, attempts)
		tok := client.Connect()
		if !tok.WaitTimeout(o.ConnectTimeout) {
			log.Println("MQTT: connection timeout")
			continue
		}
		if err := tok.Error(); err != nil {
			return nil, errors.Wrap(err, "connect")
		}
		log.Printf("MQTT: connected")
		return client, nil
	}

	return nil, errors.Errorf("no connection to %s after %d attempts", o.Broker, attempts)
}

func (m *MQTT) commandTopic() string {
	return fmt.Sprintf("/devices/%s/commands/flight", m.deviceID)
}

func (m *MQTT) eventsTopic() string {
	return fmt.Sprintf("/devices/%s/events/flight/", m.deviceID)
}

func (m *MQTT) controlTopic() string {
	return fmt.Sprintf("/devices/%s/commands/control", m.deviceID)
}

func (m *MQTT) sessionTopic() string {
	return fmt.Sprintf("/devices/%s/events/session", m.deviceID)
}

func (m *MQTT) trustTopic() string {
	return fmt.Sprintf("/devices/%s/events/trust", m.deviceID)
}

// SendCommand publishes b without waiting for the broker. Only a missing
// connection is reported; a publish lost after that is left to the command
// deadline.
func (m *MQTT) SendCommand(b []byte) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	m.publish(m.commandTopic(), b)
	return nil
}

func (m *MQTT) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	defer wg.Done()

	log.Printf("MQTT: subscribing to flight events and operator commands")
	events := m.client.Subscribe(m.eventsTopic()+"#", qos, func(client mqtt.Client, msg mqtt.Message) {
		m.handleEvent(msg.Topic(), msg.Payload(), post)
	})
	if events.WaitTimeout(publishTimeout) && events.Error() != nil {
		log.Printf("MQTT: subscribe failed: %v", events.Error())
	}
	control := m.client.Subscribe(m.controlTopic(), qos, func(client mqtt.Client, msg mqtt.Message) {
		m.handleControl(msg.Payload(), post)
	})
	if control.WaitTimeout(publishTimeout) && control.Error() != nil {
		log.Printf("MQTT: subscribe failed: %v", control.Error())
	}

	<-ctx.Done()
	log.Println("MQTT: shutting down")
}

// Receive publishes session events for the backend
func (m *MQTT) Receive(message types.Message) {
	switch message.MessageType {
	case types.MessageAircraftState, types.MessageCommandReply, types.MessageOperatorCommand:
		return
	}
	jsonMessage, err := message.ToJsonMessage()
	if err != nil {
		log.Printf("MQTT: could not marshal %s: %v", message.MessageType, err)
		return
	}
	event := sessionEvent{Message: jsonMessage}
	if signer := m.identity(); signer != nil {
		sig, err := signer.Sign(rand.Reader, []byte(jsonMessage.Message.(string)))
		if err != nil {
			log.Printf("MQTT: could not sign %s: %v", message.MessageType, err)
		} else {
			event.Signature = &eventSignature{Format: sig.Format, Blob: sig.Blob}
		}
	}

	b, err := json.Marshal(event)
	if err != nil {
		log.Printf("MQTT: could not marshal %s: %v", message.MessageType, err)
		return
	}
	m.publish(m.sessionTopic(), b)
}

func (m *MQTT) handleEvent(topic string, payload []byte, post types.PostFn) {
	msg, err := DecodeFrame(payload)
	if err != nil {
		log.Printf("MQTT: dropping frame on %s: %v", strings.TrimPrefix(topic, m.eventsTopic()), err)
		return
	}
	post(msg)
}

func (m *MQTT) handleControl(payload []byte, post types.PostFn) {
	var cmd types.OperatorCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Printf("MQTT: could not unmarshal operator command: %v", err)
		return
	}

	if cmd.Command == commandInitializeTrust {
		log.Printf("MQTT: initializing trust with backend")
		go m.initializeTrust()
		return
	}
	post(types.CreateMessage(types.MessageOperatorCommand, "operator", "session", cmd))
}

func (m *MQTT) publish(topic string, b []byte) {
	tok := m.client.Publish(topic, qos, retain, b)
	go func() {
		if !tok.WaitTimeout(publishTimeout) {
			log.Printf("MQTT: publish to %s not confirmed within %v", topic, publishTimeout)
			return
		}
		if err := tok.Error(); err != nil {
			log.Printf("MQTT: publish to %s failed: %v", topic, err)
		}
	}()
}

// initializeTrust generates the device identity and announces its public key
func (m *MQTT) initializeTrust() {
	privateKey, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		log.Printf("MQTT: could not generate keys: %v", err)
		return
	}
	if err := m.trust(privateKey); err != nil {
		log.Printf("MQTT: %v", err)
		return
	}
	log.Printf("MQTT: trust initialized")
}

// trust makes key the identity that signs session events and publishes its
// public half in authorized_keys form
func (m *MQTT) trust(key interface{}) error {
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return errors.Wrap(err, "ssh identity")
	}
	announcement, err := trustAnnouncement(signer.PublicKey())
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sshID = signer
	m.mu.Unlock()

	m.publish(m.trustTopic(), announcement)
	return nil
}

func (m *MQTT) identity() ssh.Signer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sshID
}

func trustAnnouncement(publicKey ssh.PublicKey) ([]byte, error) {
	authorized := ssh.MarshalAuthorizedKey(publicKey)
	b, err := json.Marshal(trustEvent{
		PublicSSHKey: strings.TrimSuffix(string(authorized), "\n"),
	})
	return b, errors.Wrap(err, "trust announcement")
}
