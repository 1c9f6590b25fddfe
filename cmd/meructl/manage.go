package main

import (
	"github.com/spf13/cobra"

	"meru/backend/internal/service"
)

// NewDomainCmd 创建 domain 子命令
func NewDomainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "管理邮件域名",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "注册一个邮件域名",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			d, err := env.services.Domains.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("domain %s created (id %s)\n", d.Name, d.ID)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出全部邮件域名",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			domains, err := env.services.Domains.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range domains {
				cmd.Printf("%s\t%s\n", d.ID, d.Name)
			}
			return nil
		},
	})

	return cmd
}

// NewAliasCmd 创建 alias 子命令
func NewAliasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "管理邮件别名",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <domain> <source> <destination>",
		Short: "创建别名，source 为本地部分",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			alias, err := env.services.Aliases.Create(cmd.Context(), service.AliasInput{
				Domain:      args[0],
				Source:      args[1],
				Destination: args[2],
			})
			if err != nil {
				return err
			}
			cmd.Printf("alias %s@%s -> %s created\n", alias.Source, args[0], alias.Destination)
			return nil
		},
	})

	return cmd
}

// NewAdminCmd 创建 admin 子命令
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "管理管理员账户",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <email> <password>",
		Short: "创建管理员账户，域名必须已注册",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			result, err := env.services.Accounts.CreateAdmin(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			cmd.Printf("admin %s created (id %s)\n", result.Email, result.UserID)
			return nil
		},
	})

	return cmd
}
