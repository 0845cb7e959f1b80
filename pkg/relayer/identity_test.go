package relayer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/sparkswap-broker/pkg/crypto"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

func TestIdentityAuthorize(t *testing.T) {
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := NewIdentity(signer, util.FixedClock{T: time.Unix(1561597836, 0)})

	auth, err := id.Authorize("order-1")
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), auth.PublicKey)
	assert.Equal(t, "1561597836", auth.Timestamp)
	assert.NotEmpty(t, auth.Nonce)

	assert.True(t, Verify(auth, "order-1"))
	assert.False(t, Verify(auth, "order-2"))

	tampered := auth
	tampered.Timestamp = "1561597837"
	assert.False(t, Verify(tampered, "order-1"))

	again, err := id.Authorize("order-1")
	require.NoError(t, err)
	assert.NotEqual(t, auth.Nonce, again.Nonce)
}
