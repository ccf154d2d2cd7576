package models

import "slices"

// Charter is the ephemeral founding token: a claimed clan name and the
// ordered identities that signed it. The first signer is the proposed leader.
type Charter struct {
	Name    string   `json:"name"`
	Signers []string `json:"signers"`
}

func (c Charter) Leader() string {
	if len(c.Signers) == 0 {
		return ""
	}
	return c.Signers[0]
}

func (c Charter) HasSigner(identity string) bool {
	return slices.Contains(c.Signers, identity)
}

// WithSigner returns a copy with identity appended to the signer list.
func (c Charter) WithSigner(identity string) Charter {
	signers := make([]string, 0, len(c.Signers)+1)
	signers = append(signers, c.Signers...)
	c.Signers = append(signers, identity)
	return c
}
