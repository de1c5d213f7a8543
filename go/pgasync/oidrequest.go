// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pgasync

import (
	"context"
	"fmt"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgtype"
)

const oidQuery = "SELECT COALESCE(to_regtype(f)::oid, 0) AS oid FROM UNNEST($1::text[]) AS f"

// RequestOidMap resolves the oids of the custom types registered in conn's
// oid map. Every name must resolve.
func RequestOidMap(ctx context.Context, conn *Conn, t deadline.Deadline) error {
	names := conn.OidMap().Names()
	var oids []pgtype.Oid
	if _, err := Request(ctx, conn, pgtype.NewQuery(oidQuery, names), t, pgtype.Rows(&oids)); err != nil {
		return mterrors.Wrap(mterrors.OidRequestFailed, err, "request for custom type oids failed")
	}
	if len(oids) != len(names) {
		conn.setErrorContext("oid request returned the wrong number of rows")
		return mterrors.New(mterrors.OidRequestFailed, "got %d oids for %d types", len(oids), len(names))
	}
	for i, name := range names {
		if oids[i] == pgtype.InvalidOid {
			conn.setErrorContext(fmt.Sprintf("null oid for type %q", name))
			return mterrors.New(mterrors.OidRequestFailed, "type %q does not exist", name)
		}
		if err := conn.oids.Set(name, oids[i]); err != nil {
			return mterrors.Wrap(mterrors.OidRequestFailed, err, "recording oid for %q", name)
		}
	}
	return nil
}
