package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE journeys (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				run_multiple_times BOOLEAN NOT NULL DEFAULT false,
				definition JSONB NOT NULL,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_journeys_status ON journeys(status);
			CREATE INDEX idx_journeys_owner ON journeys(owner);

			CREATE TABLE segments (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				conditions JSONB NOT NULL,
				condition_join VARCHAR(10) NOT NULL DEFAULT 'or',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE entities (
				id UUID PRIMARY KEY,
				external_id VARCHAR(255) NOT NULL UNIQUE,
				properties JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE events (
				id UUID PRIMARY KEY,
				entity_id UUID NOT NULL REFERENCES entities(id),
				name VARCHAR(255) NOT NULL,
				properties JSONB NOT NULL DEFAULT '{}',
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_events_entity_id ON events(entity_id);
			CREATE INDEX idx_events_name ON events(name);

			CREATE TABLE journey_runs (
				id UUID PRIMARY KEY,
				journey_id UUID NOT NULL REFERENCES journeys(id),
				entity_id UUID NOT NULL REFERENCES entities(id),
				current_node_id VARCHAR(255) NOT NULL,
				state VARCHAR(50) NOT NULL CHECK (state IN ('pending', 'running', 'waiting', 'completed', 'exited', 'failed')),
				resume_at TIMESTAMP WITH TIME ZONE,
				lease_owner VARCHAR(255),
				lease_expires_at TIMESTAMP WITH TIME ZONE,
				attempts INT NOT NULL DEFAULT 0,
				version BIGINT NOT NULL DEFAULT 0,
				failure_cause TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_journey_runs_journey_id ON journey_runs(journey_id);
			CREATE INDEX idx_journey_runs_entity_id ON journey_runs(entity_id);
			CREATE INDEX idx_journey_runs_due ON journey_runs(state, resume_at, lease_expires_at);

			CREATE TABLE step_history (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES journey_runs(id),
				journey_id UUID NOT NULL,
				node_id VARCHAR(255),
				kind VARCHAR(50) NOT NULL,
				branch VARCHAR(10),
				attempt INT,
				cause TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_step_history_run_id ON step_history(run_id);
			CREATE INDEX idx_step_history_journey_id ON step_history(journey_id, created_at);
			CREATE UNIQUE INDEX idx_step_history_delivery_dedup
				ON step_history(run_id, node_id) WHERE kind = 'delivered';
		`,
		2: `
			CREATE TABLE journey_metrics (
				journey_id UUID NOT NULL,
				node_id VARCHAR(255) NOT NULL DEFAULT '',
				counter VARCHAR(50) NOT NULL,
				value BIGINT NOT NULL DEFAULT 0,
				PRIMARY KEY (journey_id, node_id, counter)
			);
		`,
	}
}
