package mongod

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const cleanRestartLog = `2021-03-08T21:15:33.518+0000 I CONTROL  [signalProcessingThread] got signal 15 (Terminated), will terminate after current cmd ends
2021-03-08T21:15:33.520+0000 I CONTROL  [signalProcessingThread] shutting down with code:0
2021-03-08T21:15:40.166+0000 I CONTROL  [initandlisten] MongoDB starting : pid=1 port=27017 dbpath=/data/db
2021-03-08T21:15:41.166+0000 I NETWORK  [initandlisten] waiting for connections on port 27017`

const crashRecoveryLog = `2021-03-08T21:20:10.001+0000 I CONTROL  [initandlisten] MongoDB starting : pid=1 port=27017 dbpath=/data/db
2021-03-08T21:20:10.014+0000 W STORAGE  [initandlisten] Detected unclean shutdown - /data/db/mongod.lock is not empty.
2021-03-08T21:20:10.020+0000 I STORAGE  [initandlisten] Recovering data from the last clean checkpoint.
2021-03-08T21:20:12.300+0000 I NETWORK  [initandlisten] waiting for connections on port 27017`

const electionLog = `2021-03-08T21:16:02.100+0000 I REPL     [replexec-0] transition to RECOVERING from STARTUP2
2021-03-08T21:16:02.150+0000 I REPL     [replexec-0] transition to SECONDARY from RECOVERING
2021-03-08T21:16:12.200+0000 I ELECTION [replexec-1] election succeeded, assuming primary role in term 1
2021-03-08T21:16:12.220+0000 I REPL     [replexec-1] transition to PRIMARY from SECONDARY
2021-03-08T21:16:14.000+0000 I REPL     [rsSync-0] transition to primary complete; database writes are now permitted`

func TestReadyForConnections(t *testing.T) {
	assert.True(t, ReadyForConnections.In(cleanRestartLog))
	assert.True(t, ReadyForConnections.In(crashRecoveryLog))
	assert.False(t, ReadyForConnections.In("MongoDB starting : pid=1"))
}

func TestCleanShutdown(t *testing.T) {
	assert.True(t, CleanShutdown.In(cleanRestartLog))
	// Spacing after the colon varies between server versions.
	assert.True(t, CleanShutdown.In("shutting down with code: 0"))
	assert.False(t, CleanShutdown.In(crashRecoveryLog))
	assert.False(t, CleanShutdown.In("shutting down with code:100"))
}

func TestCrashRecovery(t *testing.T) {
	assert.True(t, CrashRecovery.In(crashRecoveryLog))
	assert.False(t, CrashRecovery.In(cleanRestartLog))
}

func TestReplicaSetTransitions(t *testing.T) {
	assert.True(t, TransitionToPrimary.In(electionLog))
	assert.True(t, TransitionToSecondary.In(electionLog))
	assert.False(t, SteppingDown.In(electionLog))
	assert.True(t, SteppingDown.In("2021-03-08T21:30:00.000+0000 I REPL [conn12] Stepping down from primary in response to replSetStepDown"))
}

func TestCount(t *testing.T) {
	// Both the PRIMARY transition and the "transition to primary complete"
	// confirmation match; a second election would double the count.
	assert.Equal(t, 2, TransitionToPrimary.Count(electionLog))
	assert.Equal(t, 0, TransitionToPrimary.Count(cleanRestartLog))
	assert.Equal(t, 1, CleanShutdown.Count(cleanRestartLog))
}

func TestStepDownRaisesSecondaryTransitionCount(t *testing.T) {
	// Every member passes through SECONDARY on its way to PRIMARY, so the
	// marker is present even in a healthy election. Only a growing count
	// means the node fell back.
	assert.Equal(t, 1, TransitionToSecondary.Count(electionLog))

	steppedDown := electionLog + "\n2021-03-08T21:30:05.000+0000 I REPL     [conn12] transition to SECONDARY from PRIMARY"
	assert.Equal(t, 2, TransitionToSecondary.Count(steppedDown))
	assert.Equal(t, 2, TransitionToPrimary.Count(steppedDown))
}
