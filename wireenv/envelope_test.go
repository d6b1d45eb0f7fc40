package wireenv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nostrengine.dev/cashu"
)

func TestProofsResponseEncodeDecodeRoundTrip(t *testing.T) {
	resp := ProofsResponse{
		Mints: []ProofsResponseMint{
			{
				Mint: "https://mint.example",
				Proofs: []*cashu.Proof{
					{Amount: 4, Secret: "s1", C: "c1"},
					{Amount: 2, Secret: "s2", C: "c2", DLEQ: &cashu.DleqProof{E: "e", S: "s"}},
				},
			},
		},
	}

	got, err := DecodeProofsResponse(EncodeProofsResponse(resp))
	require.NoError(t, err)
	require.Len(t, got.Mints, 1)
	require.Equal(t, "https://mint.example", got.Mints[0].Mint)
	require.Len(t, got.Mints[0].Proofs, 2)
	require.Equal(t, "s2", got.Mints[0].Proofs[1].Secret)
	require.Equal(t, "e", got.Mints[0].Proofs[1].DLEQ.E)
}

func TestDecodeProofsResponseRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeProofsResponse([]byte("not json"))
	require.Error(t, err)
}
