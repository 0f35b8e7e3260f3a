package cmd

import (
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newFleetCmd creates and configures the 'fleet' subcommand.
func newFleetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Create or terminate capture instances, or dispatch batches to one",
		Long: heredoc.Doc(`
			--action create launches --count EC2 instances and prints their ids.
			--action terminate terminates --ec2_instance_id.
			--action run reads batch ids from the worklist table, writes each batch's
			URLs to the transfer file, copies the program directory to the instance
			and runs "webarchiver capture" there, one batch at a time. A failed batch
			does not stop later ones.
		`),
		Example: heredoc.Doc(`
			webarchiver fleet --action create --ami ami-0abc --key_name crawler --count 2
			webarchiver fleet --action run --ec2_instance_id i-0123 --config fleet.yaml
		`),
		Args: cobra.NoArgs,
		RunE: runFleetCommand,
	}

	flags := cmd.Flags()
	flags.String("action", "", "create, terminate or run")
	flags.String("ami", "", "image id for create")
	flags.String("instance_type", "t2.nano", "instance type for create")
	flags.String("key_name", "", "EC2 key pair name for create")
	flags.String("security_group", "", "security group id for create")
	flags.Int("count", 1, "number of instances to create")
	flags.String("instance_name", "", "Name tag for created instances")
	flags.String("ec2_instance_id", "", "instance to terminate or run batches on")
	flags.String("aws_profile_name", "", "AWS shared config profile")
	flags.String("aws_ec2_region_name", "", "AWS region")
	flags.String("aws_ec2_key_file", "", "private key file for SSH")
	flags.String("crawler_local_directory", "", "program directory copied to the instance")
	flags.String("crawler_remote_directory", "", "destination directory on the instance")
	flags.String("db_host", "", "worklist database host")
	flags.Int("db_port", 5439, "worklist database port")
	flags.String("db_name", "", "worklist database name")
	flags.String("db_username", "", "worklist database user")
	flags.String("db_password", "", "worklist database password")
	flags.String("table_name", "", "worklist table (may be schema-qualified)")
	flags.String("field_name", "", "URL column")
	flags.String("urlset_id_field_name", "", "batch id column")
	flags.String("output_location", "", "output location passed to every remote capture")
	flags.Int("max_batches", 0, "maximum batches to dispatch (0 for all)")
	return cmd
}

func runFleetCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	if err := cfg.ValidateFleet(); err != nil {
		return err
	}

	fleet, err := appInstance.Fleet(cmd.Context())
	if err != nil {
		return fmt.Errorf("init fleet: %w", err)
	}
	appInstance.MarkReady()
	out := cmd.OutOrStdout()

	switch cfg.Fleet.Action {
	case "create":
		ids, err := fleet.Create(cmd.Context(), appInstance.InstanceSpec())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
	case "terminate":
		if err := fleet.Terminate(cmd.Context(), cfg.Fleet.InstanceID); err != nil {
			return err
		}
		fmt.Fprintf(out, "terminated %s\n", cfg.Fleet.InstanceID)
	case "run":
		report, err := fleet.Run(cmd.Context())
		for _, b := range report.Batches {
			fmt.Fprintf(out, "%s\t%s\t%d urls\n", b.ID, b.Status, b.URLs)
		}
		if err != nil {
			return err
		}
		appInstance.Logger().Info("fleet run finished",
			zap.Int("batches", len(report.Batches)),
			zap.Bool("canceled", report.Canceled),
		)
	}
	return nil
}
