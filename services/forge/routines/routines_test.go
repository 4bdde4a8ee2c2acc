// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routines

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
)

func TestRun_Lifecycle(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	rec := NewRecorder(st, nil)
	run, err := rec.Start(ctx, "owner", "project", datatypes.RoutineGeneration)
	require.NoError(t, err)

	run.Step(ctx, "plan_received", map[string]any{"lines": 3})
	run.SetFiles([]string{"a.ts"}, nil)

	stored, err := st.GetRoutine(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, datatypes.RoutineRunning, stored.Status)
	require.Len(t, stored.Steps, 1)
	assert.Equal(t, "plan_received", stored.Steps[0].Type)

	require.NoError(t, run.Close(ctx, datatypes.RoutineSuccess))
	assert.ErrorIs(t, run.Close(ctx, datatypes.RoutineSuccess), ErrRoutineClosed)

	stored, err = st.GetRoutine(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, datatypes.RoutineSuccess, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
	assert.Equal(t, []string{"a.ts"}, stored.CreatedFiles)

	run.Step(ctx, "late", nil)
	assert.Len(t, run.Steps(), 1, "steps after close are dropped")
}

func TestRun_Fail(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	run, err := NewRecorder(st, nil).Start(ctx, "owner", "project", datatypes.RoutineDeployment)
	require.NoError(t, err)
	require.NoError(t, run.Fail(ctx, errors.New("boom")))

	stored, err := st.GetRoutine(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, datatypes.RoutineError, stored.Status)
	require.Len(t, stored.Steps, 1)
	assert.Equal(t, "boom", stored.Steps[0].Fields["message"])
}
