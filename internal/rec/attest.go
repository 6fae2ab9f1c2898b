// Copyright 2014 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

package rec

import "fmt"

// InitAttest records ATTEST_TOKEN_INIT's 64-byte challenge on this REC,
// resetting any previous streaming progress ("ATTEST_TOKEN_INIT
// records a 64-byte challenge on the REC").
func (r *REC) InitAttest(challenge [64]byte) {
	r.Attest = AttestState{ChallengeSet: true, Challenge: challenge}
}

// ConsumeTokenChunk advances this REC's streaming offset by n bytes,
// failing if ATTEST_TOKEN_INIT was never called: INIT must precede
// CONTINUE.
func (r *REC) ConsumeTokenChunk(n int) error {
	if !r.Attest.ChallengeSet {
		return fmt.Errorf("rec: attest_token_continue without a prior init")
	}
	r.Attest.TokenOffset += n
	return nil
}
