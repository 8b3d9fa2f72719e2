package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'active')),
				trigger JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE workflow_steps (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				step_type VARCHAR(255) NOT NULL,
				step_order INT NOT NULL,
				config JSONB DEFAULT '{}',
				retry JSONB,
				error_policy JSONB,
				PRIMARY KEY (workflow_id, id),
				UNIQUE (workflow_id, step_order)
			);
		`,
		2: `
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'paused', 'failed', 'completed')),
				current_step_order INT,
				context JSONB DEFAULT '{}',
				paused_at TIMESTAMP WITH TIME ZONE,
				resume_at TIMESTAMP WITH TIME ZONE,
				error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
		`,
		3: `
			CREATE TABLE notification_configs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				config JSONB DEFAULT '{}',
				on_failure BOOLEAN NOT NULL DEFAULT false,
				on_pause BOOLEAN NOT NULL DEFAULT false
			);

			CREATE INDEX idx_notification_configs_workflow_id ON notification_configs(workflow_id);
		`,
	}
}
