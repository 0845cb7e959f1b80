package relayer

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/uhyunpark/sparkswap-broker/pkg/crypto"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

// Authorization proves to the relayer that a request for an order or fill
// id comes from the key that created it.
type Authorization struct {
	PublicKey string `json:"publicKey"`
	Nonce     string `json:"nonce"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

// Identity signs authorizations with the broker's secp256k1 key.
type Identity struct {
	signer *crypto.Signer
	clock  util.Clock
}

func NewIdentity(signer *crypto.Signer, clock util.Clock) *Identity {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Identity{signer: signer, clock: clock}
}

func (i *Identity) PublicKey() string { return i.signer.PublicKeyHex() }

// Authorize signs "timestamp,nonce,id".
func (i *Identity) Authorize(id string) (Authorization, error) {
	timestamp := strconv.FormatInt(i.clock.Now().Unix(), 10)
	nonce := uuid.NewString()

	sig, err := i.signer.SignMessage(AuthorizationPayload(timestamp, nonce, id))
	if err != nil {
		return Authorization{}, fmt.Errorf("failed to authorize %s: %w", id, err)
	}
	return Authorization{
		PublicKey: i.signer.PublicKeyHex(),
		Nonce:     nonce,
		Timestamp: timestamp,
		Signature: hexutil.Encode(sig),
	}, nil
}

func AuthorizationPayload(timestamp, nonce, id string) []byte {
	return []byte(timestamp + "," + nonce + "," + id)
}

// Verify checks an authorization for id. The relayer does this on its side;
// the broker uses it in tests and diagnostics.
func Verify(auth Authorization, id string) bool {
	sig, err := hexutil.Decode(auth.Signature)
	if err != nil {
		return false
	}
	return crypto.VerifyMessage(auth.PublicKey, AuthorizationPayload(auth.Timestamp, auth.Nonce, id), sig)
}
